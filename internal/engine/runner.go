package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the terminal outcome of a run.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusIterationLimit      Status = "iteration_limit_reached"
	StatusRepetitionDetected  Status = "repetition_detected"
	StatusAPIError            Status = "api_error"
	StatusBudgetExceeded      Status = "budget_exceeded"
	StatusEscalationThreshold Status = "escalation_threshold_exceeded"
	// StatusInterrupted means the process is shutting down; the session
	// keeps its lifecycle so it can be resumed.
	StatusInterrupted Status = "interrupted"
)

// RunRequest identifies one build session.
type RunRequest struct {
	SessionID    string
	JobID        string
	UserID       string
	ProjectID    string
	SandboxID    string
	SystemPrompt string
	// Task is the opening user turn of a fresh session.
	Task string
}

// RunResult is what Run returns. Run never returns an error: every failure
// mode maps to a Status.
type RunResult struct {
	Status      Status
	FinalText   string
	StopMessage string
	Iterations  int
	SessionCost int64
	Escalations int
	Resumed     bool
}

const wakeMessage = "The daily budget has renewed. Continue building from where you left off."

type loopState int

const (
	stateThink loopState = iota
	stateAct
	stateObserve
	stateSleep
	stateDone
)

func (s loopState) String() string {
	switch s {
	case stateThink:
		return "think"
	case stateAct:
		return "act"
	case stateObserve:
		return "observe"
	case stateSleep:
		return "sleep"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("loopState(%d)", int(s))
}

// Runner drives one build session through think → act → observe. A Runner
// is bound to its ErrorTracker and therefore to one session; build a new
// one per run.
type Runner struct {
	cfg         RunnerConfig
	llm         LLMClient
	tools       Dispatcher
	checkpoints CheckpointStore
	budget      *BudgetTracker
	tracker     *ErrorTracker
	wake        WakeSignal
	publisher   Publisher
	sessions    SessionRecorder
	hooks       Hooks
	logger      *log.Logger
}

// run is the mutable state of one Run call. It is owned by the calling
// goroutine and never shared.
type run struct {
	*Runner
	req RunRequest

	history     []ChatMessage
	guard       *IterationGuard
	counts      *RetryCounts
	phase       Phase
	lifecycle   Lifecycle
	dailyBudget int64
	sessionCost int64
	softLatched bool

	pending     LLMResponse
	turnResults []ToolResult
	turnOpen    bool

	result RunResult
}

// Run executes the loop until a terminal status. It blocks the calling
// goroutine, including while sleeping for the budget to renew.
func (r *Runner) Run(ctx context.Context, req RunRequest) RunResult {
	rs := &run{
		Runner:    r,
		req:       req,
		guard:     NewIterationGuard(r.cfg.MaxToolCalls),
		phase:     PhaseExplore,
		lifecycle: LifecycleRunning,
	}
	if r.tracker != nil {
		rs.counts = r.tracker.Counts()
	}
	started := time.Now().UTC()

	state := rs.start(ctx)
	for state != stateDone {
		next, err := rs.step(ctx, state)
		if err != nil {
			rs.fail(ctx, err)
			break
		}
		state = next
	}
	rs.finish(ctx, started)
	return rs.result
}

// step is the single transition function of the loop.
func (rs *run) step(ctx context.Context, s loopState) (loopState, error) {
	switch s {
	case stateThink:
		return rs.think(ctx)
	case stateAct:
		return rs.act(ctx)
	case stateObserve:
		return rs.observe(ctx)
	case stateSleep:
		return rs.sleep(ctx)
	}
	return stateDone, fmt.Errorf("no transition from loop state %s", s)
}

// start restores an unfinished session or seeds a fresh one.
func (rs *run) start(ctx context.Context) loopState {
	if snap := rs.restore(ctx); snap != nil {
		rs.history = snap.History
		rs.guard.Restore(snap.Iteration)
		if rs.counts != nil && snap.RetryCounts != nil {
			rs.counts.Replace(snap.RetryCounts.Snapshot())
		}
		if snap.Phase != "" {
			rs.phase = snap.Phase
		}
		if rs.req.SandboxID == "" {
			rs.req.SandboxID = snap.SandboxID
		}
		rs.dailyBudget = snap.DailyBudget
		rs.sessionCost = snap.SessionCost
		rs.result.Resumed = true
		if rs.dailyBudget == 0 {
			rs.dailyBudget = rs.calcDailyBudget(ctx)
		}
		if snap.Lifecycle == LifecycleSleeping {
			return stateSleep
		}
		if rs.budget != nil && IsAtGracefulThreshold(rs.sessionCost, rs.dailyBudget) {
			rs.softLatched = true
		}
		return stateThink
	}

	rs.history = []ChatMessage{{Role: RoleUser, Content: rs.req.Task}}
	rs.dailyBudget = rs.calcDailyBudget(ctx)
	return stateThink
}

func (rs *run) restore(ctx context.Context) *Snapshot {
	if rs.checkpoints == nil {
		return nil
	}
	snap, err := rs.checkpoints.Restore(ctx, rs.req.SessionID)
	if err != nil {
		rs.logger.Printf("⚠️  failed to restore session %s, starting fresh: %v", rs.req.SessionID, err)
		return nil
	}
	if snap == nil || len(snap.History) == 0 {
		return nil
	}
	// completed and stopped sessions are over; the next job starts fresh
	switch snap.Lifecycle {
	case LifecycleCompleted, LifecycleStopped:
		return nil
	}
	return snap
}

func (rs *run) calcDailyBudget(ctx context.Context) int64 {
	if rs.budget == nil {
		return 0
	}
	daily, err := rs.budget.CalcDailyBudget(ctx, rs.req.UserID)
	if err != nil {
		rs.logger.Printf("⚠️  %v", err)
		return 0
	}
	return daily
}

func (rs *run) think(ctx context.Context) (loopState, error) {
	rs.hooks.OnTurnStart(ctx, rs.state())

	n := newNarrator(func(s string) { rs.narrate(ctx, s) })
	req := TurnRequest{
		Model:           rs.cfg.Model,
		System:          rs.req.SystemPrompt,
		Messages:        rs.history,
		Tools:           rs.tools.Schemas(),
		MaxOutputTokens: rs.cfg.MaxOutputTokens,
		Temperature:     rs.cfg.Temperature,
	}
	resp, err := RetryLLMCall(ctx, rs.cfg.LLMRetry, rs.llm, req, n.Write,
		func(attempt int, delay time.Duration, err error) {
			n.Flush()
			rs.hooks.OnRetryAttempt(ctx, rs.state(), attempt, delay, err)
		})
	n.Flush()
	if err != nil {
		return stateDone, &ProviderError{Err: err}
	}

	var callCost int64
	if rs.budget != nil {
		model := resp.Model
		if model == "" {
			model = rs.cfg.Model
		}
		callCost = rs.budget.CallCost(model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		rs.sessionCost = rs.budget.RecordCallCost(ctx, rs.req.SessionID, rs.req.UserID, model,
			resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	rs.hooks.OnAfterLLM(ctx, rs.state(), resp, callCost)
	if rs.budget != nil {
		if err := rs.budget.CheckRunaway(ctx, rs.req.SessionID, rs.req.UserID, rs.dailyBudget); err != nil {
			return stateDone, err
		}
		if !rs.softLatched && IsAtGracefulThreshold(rs.sessionCost, rs.dailyBudget) {
			rs.softLatched = true
			rs.logger.Printf("session=%s reached %d%% of its daily budget, will sleep at the end of this turn",
				rs.req.SessionID, gracefulPercent)
		}
	}

	rs.pending = resp
	if len(resp.ToolCalls) == 0 {
		if resp.Text != "" {
			rs.history = append(rs.history, resp.Message())
		}
		if rs.softLatched {
			return stateSleep, nil
		}
		rs.result.FinalText = resp.Text
		rs.stop(StatusCompleted, "")
		return stateDone, nil
	}

	rs.history = append(rs.history, resp.Message())
	rs.turnResults = make([]ToolResult, 0, len(resp.ToolCalls))
	rs.turnOpen = true
	return stateAct, nil
}

func (rs *run) act(ctx context.Context) (loopState, error) {
	for _, call := range rs.pending.ToolCalls {
		if err := rs.guard.CheckIterationCap(); err != nil {
			rs.closeTurn("Not executed: the tool call limit for this session was reached.")
			rs.stop(StatusIterationLimit, err.Error())
			return stateDone, nil
		}

		if err := rs.guard.CheckRepetition(call.Name, call.Args); err != nil {
			if rs.guard.Warned {
				rs.closeTurn("Not executed: the session was stopped by loop detection.")
				rs.stop(StatusRepetitionDetected, err.Error())
				return stateDone, nil
			}
			rs.guard.Warned = true
			rs.guard.ClearWindow()
			rs.turnResults = append(rs.turnResults, ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    SteeringMessage(call.Name),
				IsError:    true,
			})
			rs.closeTurn(SkippedCallMessage)
			rs.hooks.OnSteering(ctx, rs.state(), call)
			rs.publish(ctx, Event{Type: EventSteering, Label: call.Name, Summary: err.Error()})
			return stateThink, nil
		}

		rs.guard.Increment()
		res, halt, err := rs.dispatch(ctx, call)
		if err != nil {
			return stateDone, err
		}
		rs.turnResults = append(rs.turnResults, res)
		if halt {
			rs.closeTurn("Not executed: the build was paused for founder input.")
			msg := fmt.Sprintf("build paused: %d problems were escalated to the founder this session",
				rs.tracker.EscalationCount())
			rs.publish(ctx, Event{Type: EventBuildPaused, Summary: msg,
				Data: map[string]any{"reason": string(StatusEscalationThreshold)}})
			rs.stop(StatusEscalationThreshold, msg)
			return stateDone, nil
		}
	}

	rs.closeTurn("")
	return stateObserve, nil
}

// dispatch runs one call and turns the outcome into its ToolResult. Only
// provider and runaway-budget failures come back as errors; halt reports
// that the session escalation ceiling was reached.
func (rs *run) dispatch(ctx context.Context, call ToolCall) (ToolResult, bool, error) {
	res := ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	out, err := rs.tools.Dispatch(ctx, call)
	if err != nil {
		if IsProviderError(err) || IsBudgetExceeded(err) || ctx.Err() != nil {
			return res, false, err
		}
		res.IsError = true
		rs.hooks.OnToolResult(ctx, rs.state(), call, "", err)
		if rs.tracker == nil {
			res.Content = FallbackErrorText(err)
			return res, false, nil
		}
		text, esc := rs.tracker.Handle(ctx, call, err)
		res.Content = text
		if esc != nil {
			rs.result.Escalations = rs.tracker.EscalationCount()
			rs.hooks.OnEscalation(ctx, rs.state(), *esc)
			rs.publish(ctx, Event{Type: EventEscalation, Label: call.Name, Summary: esc.ProblemSummary,
				Data: map[string]any{"escalation_id": esc.ID, "category": string(esc.Category)}})
			if rs.tracker.GlobalThresholdExceeded() {
				return res, true, nil
			}
		}
		return res, false, nil
	}

	if out.IsMultimodal() {
		res.Blocks = out.Blocks
	} else {
		res.Content = TruncateToolResult(out.Text)
	}
	summary := summarizeOutput(out, rs.cfg.SummaryLimit)
	rs.hooks.OnToolResult(ctx, rs.state(), call, summary, nil)
	rs.publish(ctx, Event{Type: EventToolResult, Label: describeIntent(call), Summary: summary})
	return res, false, nil
}

// closeTurn answers every call of the pending turn that has no result yet
// and appends the single user turn carrying all results.
func (rs *run) closeTurn(placeholder string) {
	if !rs.turnOpen {
		return
	}
	answered := make(map[string]bool, len(rs.turnResults))
	for _, r := range rs.turnResults {
		answered[r.ToolCallID] = true
	}
	for _, call := range rs.pending.ToolCalls {
		if !answered[call.ID] {
			rs.turnResults = append(rs.turnResults, ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    placeholder,
				IsError:    true,
			})
		}
	}
	rs.history = append(rs.history, ChatMessage{Role: RoleUser, ToolResults: rs.turnResults})
	rs.turnResults = nil
	rs.turnOpen = false
}

func (rs *run) observe(ctx context.Context) (loopState, error) {
	rs.phase = DetectPhase(rs.history)
	rs.checkpoint(ctx)
	return stateThink, nil
}

func (rs *run) sleep(ctx context.Context) (loopState, error) {
	if rs.wake == nil || rs.budget == nil {
		rs.stop(StatusBudgetExceeded, "daily budget reached and no wake signal is configured")
		return stateDone, nil
	}

	rs.lifecycle = LifecycleSleeping
	rs.checkpoint(ctx)
	wakeAt := NextUTCMidnight(time.Now())
	if sr, ok := rs.checkpoints.(SleepRecorder); ok {
		if err := sr.MarkSleeping(ctx, rs.req.SessionID, wakeAt); err != nil {
			rs.logger.Printf("⚠️  failed to record sleep marker for %s: %v", rs.req.SessionID, err)
		}
	}
	if s, ok := rs.checkpoints.(Syncer); ok {
		if err := s.Sync(ctx); err != nil {
			rs.logger.Printf("⚠️  failed to sync state before sleeping: %v", err)
		}
	}
	rs.hooks.OnSleep(ctx, rs.state(), wakeAt)
	rs.publish(ctx, Event{Type: EventSleeping, Summary: "Daily budget reached, resuming when it renews.",
		Data: map[string]any{"wake_at": wakeAt.Format(time.RFC3339)}})

	if err := rs.wake.Wait(ctx); err != nil {
		return stateDone, err
	}
	rs.wake.Clear()

	if daily, err := rs.budget.CalcDailyBudget(ctx, rs.req.UserID); err != nil {
		rs.logger.Printf("⚠️  keeping previous daily budget: %v", err)
	} else {
		rs.dailyBudget = daily
	}
	if err := rs.budget.ResetSessionCost(ctx, rs.req.SessionID, rs.req.UserID); err != nil {
		rs.logger.Printf("⚠️  failed to reset session cost for %s: %v", rs.req.SessionID, err)
	}
	rs.sessionCost = 0
	rs.softLatched = false
	rs.lifecycle = LifecycleRunning
	rs.history = append(rs.history, ChatMessage{Role: RoleUser, Content: wakeMessage})

	rs.hooks.OnWake(ctx, rs.state())
	rs.publish(ctx, Event{Type: EventWoke, Summary: "Budget renewed, build resumed."})
	return stateThink, nil
}

// fail maps an error that unwound the loop to a terminal status.
func (rs *run) fail(ctx context.Context, err error) {
	rs.closeTurn("Not executed: the session ended before this call ran.")
	switch {
	case ctx.Err() != nil:
		rs.stop(StatusInterrupted, ctx.Err().Error())
	case IsBudgetExceeded(err):
		rs.stop(StatusBudgetExceeded, err.Error())
		rs.publish(ctx, Event{Type: EventBuildPaused, Summary: "Build paused: spend is far above today's budget.",
			Data: map[string]any{"reason": string(StatusBudgetExceeded)}})
	default:
		var pe *ProviderError
		if !errors.As(err, &pe) {
			rs.logger.Printf("⚠️  unexpected loop error: %v", err)
		}
		rs.stop(StatusAPIError, err.Error())
	}
}

func (rs *run) stop(status Status, msg string) {
	rs.result.Status = status
	rs.result.StopMessage = msg
}

// finish persists the final checkpoint and session record.
func (rs *run) finish(ctx context.Context, started time.Time) {
	ctx = context.WithoutCancel(ctx)
	switch rs.result.Status {
	case StatusCompleted:
		rs.lifecycle = LifecycleCompleted
	case StatusInterrupted:
		// keep running/sleeping so the next Run resumes
	default:
		rs.lifecycle = LifecycleStopped
	}
	rs.checkpoint(ctx)

	rs.result.Iterations = rs.guard.Count()
	rs.result.SessionCost = rs.sessionCost
	if rs.tracker != nil {
		rs.result.Escalations = rs.tracker.EscalationCount()
	}

	if rs.sessions != nil {
		rec := SessionRecord{
			SessionID:   rs.req.SessionID,
			JobID:       rs.req.JobID,
			UserID:      rs.req.UserID,
			ProjectID:   rs.req.ProjectID,
			Status:      rs.result.Status,
			StopMessage: rs.result.StopMessage,
			Iterations:  rs.result.Iterations,
			SessionCost: rs.result.SessionCost,
			StartedAt:   started,
			FinishedAt:  time.Now().UTC(),
		}
		if err := rs.sessions.RecordSession(ctx, rec); err != nil {
			rs.logger.Printf("⚠️  failed to record session %s: %v", rs.req.SessionID, err)
		}
	}

	rs.hooks.OnDone(ctx, rs.state(), rs.result)
	rs.publish(ctx, Event{Type: EventDone, Summary: string(rs.result.Status),
		Data: map[string]any{"stop_message": rs.result.StopMessage, "iterations": rs.result.Iterations}})
}

func (rs *run) checkpoint(ctx context.Context) {
	if rs.checkpoints == nil {
		return
	}
	err := rs.checkpoints.Save(ctx, rs.snapshot())
	rs.hooks.OnCheckpoint(ctx, rs.state(), err)
}

// snapshot shares the tracker's RetryCounts handle rather than copying it.
func (rs *run) snapshot() Snapshot {
	return Snapshot{
		SessionID:   rs.req.SessionID,
		JobID:       rs.req.JobID,
		UserID:      rs.req.UserID,
		ProjectID:   rs.req.ProjectID,
		History:     rs.history,
		Iteration:   rs.guard.Count(),
		SandboxID:   rs.req.SandboxID,
		Phase:       rs.phase,
		RetryCounts: rs.counts,
		SessionCost: rs.sessionCost,
		DailyBudget: rs.dailyBudget,
		Lifecycle:   rs.lifecycle,
		CreatedAt:   time.Now().UTC(),
	}
}

func (rs *run) narrate(ctx context.Context, sentence string) {
	rs.hooks.OnNarration(ctx, rs.state(), sentence)
	rs.publish(ctx, Event{Type: EventNarration, Summary: sentence})
}

// publish is best effort; a broken sink never stops the build.
func (rs *run) publish(ctx context.Context, ev Event) {
	if rs.publisher == nil {
		return
	}
	ev.SessionID = rs.req.SessionID
	ev.At = time.Now().UTC()
	if err := rs.publisher.Publish(ctx, rs.req.JobID, ev); err != nil {
		rs.logger.Printf("⚠️  failed to publish %s event: %v", ev.Type, err)
	}
}

func (rs *run) state() *RunState {
	return &RunState{
		SessionID:   rs.req.SessionID,
		JobID:       rs.req.JobID,
		Model:       rs.cfg.Model,
		Iteration:   rs.guard.Count(),
		Phase:       rs.phase,
		SessionCost: rs.sessionCost,
		DailyBudget: rs.dailyBudget,
	}
}

// summarizeOutput renders a bounded, single-line summary of a tool result.
func summarizeOutput(out ToolOutput, limit int) string {
	if out.IsMultimodal() {
		for _, b := range out.Blocks {
			if b.Type == "image" {
				return "[image]"
			}
		}
		out = ToolOutput{Text: out.Blocks[0].Text}
	}
	s := strings.Join(strings.Fields(out.Text), " ")
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
