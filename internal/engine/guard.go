package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultMaxToolCalls caps tool dispatches per run.
	DefaultMaxToolCalls = 150
	// RepetitionThreshold is how many identical consecutive calls count as a loop.
	RepetitionThreshold = 3

	repetitionWindowSize = 10

	truncateWordLimit = 2000
	truncateHeadWords = 1500
	truncateTailWords = 500
)

type callFingerprint struct {
	name  string
	input string
}

// IterationGuard enforces the tool-call cap and detects repetition loops.
// It only detects; what to do on a first strike is up to the caller, which
// records its decision in Warned.
type IterationGuard struct {
	max    int
	count  int
	window []callFingerprint

	// Warned is set by the caller once a steering message has been issued.
	Warned bool
}

// NewIterationGuard returns a guard with the given cap (<=0 means default).
func NewIterationGuard(maxToolCalls int) *IterationGuard {
	if maxToolCalls <= 0 {
		maxToolCalls = DefaultMaxToolCalls
	}
	return &IterationGuard{max: maxToolCalls}
}

// Count returns the number of tool calls dispatched so far.
func (g *IterationGuard) Count() int { return g.count }

// Max returns the configured cap.
func (g *IterationGuard) Max() int { return g.max }

// Restore sets the counter from a checkpoint. It never moves backwards.
func (g *IterationGuard) Restore(count int) {
	if count > g.count {
		g.count = count
	}
}

// Increment records one dispatched tool call.
func (g *IterationGuard) Increment() { g.count++ }

// CheckIterationCap fails once the cap has been reached.
func (g *IterationGuard) CheckIterationCap() error {
	if g.count >= g.max {
		return &IterationCapError{Count: g.count, Max: g.max}
	}
	return nil
}

// CheckRepetition appends the call to the window and fails when the last
// RepetitionThreshold entries are identical in name and input.
func (g *IterationGuard) CheckRepetition(name string, input map[string]any) error {
	g.window = append(g.window, callFingerprint{name: name, input: canonicalInput(input)})
	if len(g.window) > repetitionWindowSize {
		g.window = g.window[len(g.window)-repetitionWindowSize:]
	}
	if len(g.window) < RepetitionThreshold {
		return nil
	}
	tail := g.window[len(g.window)-RepetitionThreshold:]
	for _, fp := range tail[1:] {
		if fp != tail[0] {
			return nil
		}
	}
	return &RepetitionError{ToolName: name, Times: RepetitionThreshold}
}

// ClearWindow forgets recent calls.
func (g *IterationGuard) ClearWindow() { g.window = g.window[:0] }

// canonicalInput renders input deterministically; encoding/json sorts map keys.
func canonicalInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(b)
}

// TruncateToolResult shortens long plain-text results by word count, keeping
// the head and the tail around an omission marker.
func TruncateToolResult(text string) string {
	words := strings.Fields(text)
	if len(words) <= truncateWordLimit {
		return text
	}
	omitted := len(words) - truncateHeadWords - truncateTailWords
	var b strings.Builder
	b.WriteString(strings.Join(words[:truncateHeadWords], " "))
	fmt.Fprintf(&b, "\n\n[... %d words omitted ...]\n\n", omitted)
	b.WriteString(strings.Join(words[len(words)-truncateTailWords:], " "))
	return b.String()
}

// SteeringMessage is injected as the result of a call that triggered the
// first repetition strike.
func SteeringMessage(toolName string) string {
	return fmt.Sprintf("LOOP DETECTED: you have called %s %d times in a row with identical input and got the same outcome. "+
		"Stop repeating this call. Re-read the previous results, decide what is actually blocking progress, "+
		"and take a different action. Repeating it again will end this build session.",
		toolName, RepetitionThreshold)
}

// SkippedCallMessage answers calls abandoned after a steering injection.
const SkippedCallMessage = "Not executed: an earlier call in this turn was stopped by loop detection."
