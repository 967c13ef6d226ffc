package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// ErrorCategory drives whether a tool failure is retried or escalated.
type ErrorCategory string

const (
	CategoryNeverRetry ErrorCategory = "NEVER_RETRY"
	CategoryCode       ErrorCategory = "CODE_ERROR"
	CategoryEnv        ErrorCategory = "ENV_ERROR"
)

const (
	// MaxRetriesPerSignature is how many attempts an identical failure gets
	// before it is escalated to the founder.
	MaxRetriesPerSignature = 3
	// GlobalEscalationThreshold pauses the build once this many escalations
	// happened in one session.
	GlobalEscalationThreshold = 5
)

var neverRetryTypes = []string{
	"authenticationerror", "permissionerror", "permissiondenied",
	"unauthorized", "forbidden", "autherror", "credentialserror",
}

var neverRetryPatterns = []string{
	"permission denied", "unauthorized", "forbidden", "invalid api key",
	"invalid_api_key", "authentication failed", "access denied",
	"not authorized", "invalid credentials", "missing credentials",
	"status 401", "status 403",
}

var envErrorTypes = []string{
	"modulenotfounderror", "importerror", "connectionerror", "timeouterror",
	"oserror", "sandboxerror", "commandnotallowed", "environmenterror",
}

var envErrorPatterns = []string{
	"command not found", "no module named", "cannot find module",
	"connection refused", "timed out", "network", "eai_again",
	"npm err!", "disk quota", "no space left", "out of memory",
	"port is already allocated", "address already in use",
}

// Categorize classifies a failure by type name first, then message.
func Categorize(errType, message string) ErrorCategory {
	t := strings.ToLower(errType)
	m := strings.ToLower(message)
	for _, n := range neverRetryTypes {
		if t == n {
			return CategoryNeverRetry
		}
	}
	for _, p := range neverRetryPatterns {
		if strings.Contains(m, p) {
			return CategoryNeverRetry
		}
	}
	for _, n := range envErrorTypes {
		if t == n {
			return CategoryEnv
		}
	}
	for _, p := range envErrorPatterns {
		if strings.Contains(m, p) {
			return CategoryEnv
		}
	}
	return CategoryCode
}

// RetryCounts is the signature → attempt map. It is a handle: the tracker
// mutates it in place and checkpoints serialize the same instance, so
// share it by pointer and never copy the map out for bookkeeping.
type RetryCounts struct {
	m map[string]int
}

// NewRetryCounts returns an empty handle.
func NewRetryCounts() *RetryCounts {
	return &RetryCounts{m: make(map[string]int)}
}

func (c *RetryCounts) Get(sig string) int { return c.m[sig] }

func (c *RetryCounts) Len() int { return len(c.m) }

func (c *RetryCounts) inc(sig string) int {
	if c.m == nil {
		c.m = make(map[string]int)
	}
	c.m[sig]++
	return c.m[sig]
}

func (c *RetryCounts) del(sig string) { delete(c.m, sig) }

// Replace loads restored counts into this handle without swapping it.
func (c *RetryCounts) Replace(counts map[string]int) {
	if c.m == nil {
		c.m = make(map[string]int, len(counts))
	}
	clear(c.m)
	for k, v := range counts {
		c.m[k] = v
	}
}

// Snapshot returns a copy for display or comparison.
func (c *RetryCounts) Snapshot() map[string]int {
	out := make(map[string]int, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}

func (c *RetryCounts) MarshalJSON() ([]byte, error) {
	if c == nil || c.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.m)
}

func (c *RetryCounts) UnmarshalJSON(b []byte) error {
	m := make(map[string]int)
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	c.m = m
	return nil
}

// EscalationOption is one choice offered to the founder.
type EscalationOption struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Escalation is a failure handed to the founder for a decision.
type Escalation struct {
	ID                string             `json:"id"`
	ProjectID         string             `json:"project_id"`
	SessionID         string             `json:"session_id"`
	JobID             string             `json:"job_id"`
	ErrorType         string             `json:"error_type"`
	ErrorMessage      string             `json:"error_message"`
	Category          ErrorCategory      `json:"category"`
	Attempts          int                `json:"attempts"`
	AttemptsSummary   string             `json:"attempts_summary"`
	ProblemSummary    string             `json:"problem_summary"`
	RecommendedAction string             `json:"recommended_action"`
	Options           []EscalationOption `json:"options"`
	CreatedAt         time.Time          `json:"created_at"`
}

// EscalationOptions returns the founder choices for a category.
func EscalationOptions(cat ErrorCategory) []EscalationOption {
	if cat == CategoryNeverRetry {
		return []EscalationOption{
			{Value: "provide_credentials", Label: "Provide credentials", Description: "Add the missing API key or grant the access the build needs, then resume."},
			{Value: "skip_feature", Label: "Skip this feature", Description: "Build the MVP without the part that needs this access."},
		}
	}
	return []EscalationOption{
		{Value: "skip_feature", Label: "Skip this feature", Description: "Leave this part out of the MVP and keep building the rest."},
		{Value: "simpler_version", Label: "Build a simpler version", Description: "Replace it with a reduced version that avoids the failing approach."},
		{Value: "provide_guidance", Label: "Give guidance", Description: "Tell the agent how you would like this solved."},
	}
}

func recommendedAction(cat ErrorCategory) string {
	switch cat {
	case CategoryNeverRetry:
		return "provide_credentials"
	case CategoryEnv:
		return "simpler_version"
	default:
		return "provide_guidance"
	}
}

// ErrorTracker counts identical tool failures per project and decides when
// to stop retrying and escalate to the founder.
type ErrorTracker struct {
	projectID   string
	sessionID   string
	jobID       string
	counts      *RetryCounts
	recorder    EscalationRecorder
	escalations int
	logger      *log.Logger
}

// NewErrorTracker binds a tracker to a shared RetryCounts handle. recorder
// may be nil, in which case escalations are not persisted.
func NewErrorTracker(projectID, sessionID, jobID string, counts *RetryCounts, recorder EscalationRecorder) *ErrorTracker {
	if counts == nil {
		counts = NewRetryCounts()
	}
	return &ErrorTracker{
		projectID: projectID,
		sessionID: sessionID,
		jobID:     jobID,
		counts:    counts,
		recorder:  recorder,
		logger:    log.Default(),
	}
}

// Counts returns the shared handle (not a copy).
func (t *ErrorTracker) Counts() *RetryCounts { return t.counts }

// EscalationCount returns escalations issued this session.
func (t *ErrorTracker) EscalationCount() int { return t.escalations }

// Signature is the stable key for (project, error type, message).
func (t *ErrorTracker) Signature(errType, message string) string {
	h := sha256.Sum256([]byte(t.projectID + "\x00" + errType + "\x00" + message))
	return errType + ":" + hex.EncodeToString(h[:8])
}

// ShouldEscalateImmediately is true only for NEVER_RETRY failures.
func (t *ErrorTracker) ShouldEscalateImmediately(errType, message string) bool {
	return Categorize(errType, message) == CategoryNeverRetry
}

// RecordAndCheck bumps the signature count. Attempts 1..3 return
// (false, attempt); the fourth and later return (true, attempt) and count
// as one session escalation each.
func (t *ErrorTracker) RecordAndCheck(errType, message string) (bool, int) {
	attempt := t.counts.inc(t.Signature(errType, message))
	if attempt > MaxRetriesPerSignature {
		t.escalations++
		return true, attempt
	}
	return false, attempt
}

// ResetSignature forgets a signature; missing keys are fine.
func (t *ErrorTracker) ResetSignature(errType, message string) {
	t.counts.del(t.Signature(errType, message))
}

// GlobalThresholdExceeded reports whether the session should pause.
func (t *ErrorTracker) GlobalThresholdExceeded() bool {
	return t.escalations >= GlobalEscalationThreshold
}

// RecordEscalation persists an escalation and returns its id. Persistence
// failures are logged and yield "".
func (t *ErrorTracker) RecordEscalation(ctx context.Context, esc *Escalation) string {
	esc.ProjectID = t.projectID
	esc.SessionID = t.sessionID
	esc.JobID = t.jobID
	if t.recorder == nil {
		return ""
	}
	id, err := t.recorder.RecordEscalation(ctx, *esc)
	if err != nil {
		t.logger.Printf("⚠️  failed to record escalation for %s: %v", esc.ErrorType, err)
		return ""
	}
	esc.ID = id
	return id
}

// Handle turns a tool failure into the text returned to the model. It
// returns the escalation when one was issued.
func (t *ErrorTracker) Handle(ctx context.Context, call ToolCall, err error) (string, *Escalation) {
	errType := ErrorTypeName(err)
	msg := ErrorMessage(err)
	intent := describeIntent(call)

	var attempts int
	if t.ShouldEscalateImmediately(errType, msg) {
		t.escalations++
		attempts = 1
	} else {
		escalate, attempt := t.RecordAndCheck(errType, msg)
		if !escalate {
			return RetryGuidance(attempt, errType, msg, intent), nil
		}
		attempts = attempt
	}

	cat := Categorize(errType, msg)
	esc := &Escalation{
		ErrorType:         errType,
		ErrorMessage:      msg,
		Category:          cat,
		Attempts:          attempts,
		AttemptsSummary:   fmt.Sprintf("%s failed %d time(s) with %s", call.Name, attempts, errType),
		ProblemSummary:    fmt.Sprintf("While trying to %s the build hit: %s", intent, msg),
		RecommendedAction: recommendedAction(cat),
		Options:           EscalationOptions(cat),
		CreatedAt:         time.Now().UTC(),
	}
	t.RecordEscalation(ctx, esc)
	return EscalationGuidance(*esc), esc
}

// RetryGuidance is the text handed back to the model after attempt N.
func RetryGuidance(attempt int, errType, message, intent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "APPROACH %d FAILED (attempt %d of %d)\n", attempt, attempt, MaxRetriesPerSignature)
	fmt.Fprintf(&b, "Error: %s: %s\n", errType, message)
	fmt.Fprintf(&b, "Original intent: %s\n\n", intent)
	b.WriteString("Do not repeat the same action. Try a materially different approach to reach the same goal: ")
	b.WriteString("change the command, the library, the file layout or the design, whichever is causing the failure.")
	if attempt == MaxRetriesPerSignature {
		b.WriteString("\nThis is the last attempt before the problem is escalated to the founder.")
	}
	return b.String()
}

// EscalationGuidance is the text handed back to the model on escalation.
func EscalationGuidance(esc Escalation) string {
	var b strings.Builder
	b.WriteString("ESCALATED TO FOUNDER\n")
	fmt.Fprintf(&b, "Error: %s: %s\n", esc.ErrorType, esc.ErrorMessage)
	fmt.Fprintf(&b, "Category: %s, attempts: %d\n", esc.Category, esc.Attempts)
	if esc.ID != "" {
		fmt.Fprintf(&b, "Escalation id: %s\n", esc.ID)
	}
	b.WriteString("Options offered to the founder:\n")
	for _, o := range esc.Options {
		fmt.Fprintf(&b, "- %s (%s): %s\n", o.Label, o.Value, o.Description)
	}
	b.WriteString("\nStop working on this problem. Continue with other parts of the build that do not depend on it.")
	return b.String()
}

func describeIntent(call ToolCall) string {
	for _, key := range []string{"command", "path", "query", "pattern"} {
		if v, ok := call.Args[key].(string); ok && v != "" {
			return fmt.Sprintf("%s %q", call.Name, v)
		}
	}
	return call.Name
}

// FallbackErrorText is used when no tracker is configured.
func FallbackErrorText(err error) string {
	return fmt.Sprintf("Error: %s: %s", ErrorTypeName(err), ErrorMessage(err))
}
