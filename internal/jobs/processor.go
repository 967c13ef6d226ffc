package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ChamsBouzaiene/cofounder/internal/config"
	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/project"
	"github.com/ChamsBouzaiene/cofounder/internal/prompts"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
	"github.com/ChamsBouzaiene/cofounder/internal/session"
	"github.com/ChamsBouzaiene/cofounder/internal/store"
	"github.com/ChamsBouzaiene/cofounder/internal/tools"
	"github.com/ChamsBouzaiene/cofounder/internal/tools/search"
	"github.com/ChamsBouzaiene/cofounder/internal/wake"
	"github.com/ChamsBouzaiene/cofounder/internal/workspace"
)

// EventHandoff carries the founder-facing summary written after a run.
const EventHandoff engine.EventType = "handoff"

// ErrNoSubscription is returned for users without a subscription row.
var ErrNoSubscription = errors.New("jobs: user has no subscription")

// SandboxOpener opens the sandbox for a workspace; sandbox.Open by default.
type SandboxOpener func(ctx context.Context, cfg sandbox.Config, hostDir, id string, logger *log.Logger) (sandbox.Sandbox, error)

// Deps are the long-lived collaborators shared by every job.
type Deps struct {
	Config    *config.Config
	Store     *store.DB
	Costs     engine.CostStore
	Publisher engine.Publisher
	Wakes     *wake.Registry
	LLM       engine.LLMClient
	// Hooks are added to every run, e.g. the metrics hook.
	Hooks engine.Hooks
	// Summarizer writes the handoff report; nil skips it.
	Summarizer  *session.Summarizer
	OpenSandbox SandboxOpener
	Logger      *log.Logger
}

// Processor runs jobs. It is safe for concurrent use by jobs on different
// sessions.
type Processor struct {
	Deps
}

// NewProcessor validates deps and fills defaults.
func NewProcessor(d Deps) (*Processor, error) {
	switch {
	case d.Config == nil:
		return nil, errors.New("jobs: config is required")
	case d.Store == nil:
		return nil, errors.New("jobs: store is required")
	case d.Costs == nil:
		return nil, errors.New("jobs: cost store is required")
	case d.LLM == nil:
		return nil, errors.New("jobs: LLM client is required")
	}
	if d.Wakes == nil {
		d.Wakes = wake.NewRegistry()
	}
	if d.OpenSandbox == nil {
		d.OpenSandbox = sandbox.Open
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	return &Processor{Deps: d}, nil
}

// WorkspaceDir is where a project's code lives on the host.
func (p *Processor) WorkspaceDir(projectID string) string {
	return filepath.Join(p.Config.Workspaces, projectID)
}

// Process runs the job's session until it stops and returns the job
// status. Errors are reserved for jobs that could not start.
func (p *Processor) Process(ctx context.Context, job Job) (Result, error) {
	if err := job.Normalize(); err != nil {
		return Result{}, err
	}
	if _, err := p.Store.Subscription(ctx, job.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrNoSubscription, job.UserID)
		}
		return Result{}, err
	}

	dir := p.WorkspaceDir(job.ProjectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create workspace: %w", err)
	}
	bc, err := p.businessContext(dir, job)
	if err != nil {
		return Result{}, err
	}
	systemPrompt, err := p.systemPrompt(dir, bc)
	if err != nil {
		return Result{}, err
	}

	snap, err := p.Store.Restore(ctx, job.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var sandboxID string
	if snap != nil {
		sandboxID = snap.SandboxID
	}

	sbCfg := p.Config.Sandbox
	sbCfg.WorkspaceID = job.ProjectID
	sb, err := p.OpenSandbox(ctx, sbCfg, dir, sandboxID, p.Logger)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open sandbox: %w", err)
	}

	idx, stopIndex := p.openIndex(ctx, job.ProjectID, sb)
	defer stopIndex()

	gate := p.Wakes.Gate(job.SessionID)
	defer p.Wakes.Release(job.SessionID)

	budget := engine.NewBudgetTracker(p.Costs, p.Store)
	hooks := engine.Hooks{
		engine.LoggerHook{L: p.Logger},
		wake.NewScheduleHook(gate),
		sleepClearHook{db: p.Store, logger: p.Logger},
	}
	hooks = append(hooks, p.Hooks...)

	runner, err := engine.NewRunnerBuilder().
		WithConfig(p.Config.RunnerConfig()).
		WithLLM(p.LLM).
		WithDispatcher(tools.NewDispatcher(sb, idx, p.Logger)).
		WithCheckpoints(p.Store).
		WithBudget(budget).
		WithErrorTracker(engine.NewErrorTracker(job.ProjectID, job.SessionID, job.ID, engine.NewRetryCounts(), p.Store)).
		WithWake(gate).
		WithPublisher(p.Publisher).
		WithSessionRecorder(p.Store).
		WithHooks(hooks).
		WithLogger(p.Logger).
		Build()
	if err != nil {
		p.releaseSandbox(ctx, sb, false)
		return Result{}, err
	}

	p.Logger.Printf("🚀 job=%s session=%s project=%s sandbox=%s resumed=%t", job.ID, job.SessionID, job.ProjectID, sb.ID(), snap != nil)
	run := runner.Run(ctx, engine.RunRequest{
		SessionID:    job.SessionID,
		JobID:        job.ID,
		UserID:       job.UserID,
		ProjectID:    job.ProjectID,
		SandboxID:    sb.ID(),
		SystemPrompt: systemPrompt,
		Task:         job.Task,
	})

	res := Result{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Status:    StatusFor(run.Status),
		Run:       run,
		SandboxID: sb.ID(),
	}
	p.releaseSandbox(ctx, sb, res.Status == StatusCompleted)
	res.Handoff = p.handoff(ctx, job, budget, res)
	p.Logger.Printf("🏁 job=%s status=%s iterations=%d cost=%d: %s", job.ID, res.Status, run.Iterations, run.SessionCost, run.StopMessage)
	return res, nil
}

// ResumeDue wakes every session whose sleep ended while no process was
// running it. Runs happen one after another.
func (p *Processor) ResumeDue(ctx context.Context, now time.Time) ([]Result, error) {
	due, err := p.Store.DueSleepers(ctx, now)
	if err != nil {
		return nil, err
	}
	var results []Result
	for _, m := range due {
		snap, err := p.Store.Restore(ctx, m.SessionID)
		if err != nil {
			return results, err
		}
		if snap == nil || snap.UserID == "" || snap.ProjectID == "" {
			p.Logger.Printf("⚠️  sleeping session %s has no owner on record, skipping", m.SessionID)
			continue
		}
		// set before the run so the restored sleep state passes straight through
		p.Wakes.Gate(m.SessionID).Set()
		res, err := p.Process(ctx, Job{SessionID: m.SessionID, UserID: snap.UserID, ProjectID: snap.ProjectID})
		if err != nil {
			p.Logger.Printf("⚠️  failed to resume session %s: %v", m.SessionID, err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// businessContext prefers the job's context and keeps a copy in the
// workspace for later jobs on the project.
func (p *Processor) businessContext(dir string, job Job) (prompts.BusinessContext, error) {
	if job.Context != nil {
		if err := project.SaveContext(dir, *job.Context); err != nil {
			return prompts.BusinessContext{}, err
		}
		return *job.Context, nil
	}
	bc, err := project.LoadContext(dir)
	if err != nil {
		return prompts.BusinessContext{}, err
	}
	if bc == nil {
		return prompts.BusinessContext{}, fmt.Errorf("jobs: project %s has no business context", job.ProjectID)
	}
	return *bc, nil
}

func (p *Processor) systemPrompt(dir string, bc prompts.BusinessContext) (string, error) {
	prompt, err := prompts.BuildSystemPrompt(bc, workspace.Detect(dir))
	if err != nil {
		return "", err
	}
	rules, err := project.LoadRules(dir)
	if err != nil {
		p.Logger.Printf("⚠️  ignoring founder rules: %v", err)
	}
	return prompts.WithRules(prompt, rules), nil
}

// openIndex builds the code search index and keeps it current while the
// job runs. Search is optional: on failure the job runs without it.
func (p *Processor) openIndex(ctx context.Context, projectID string, sb sandbox.Sandbox) (*search.Index, func()) {
	var indexPath string
	if p.Config.IndexDir != "" {
		indexPath = filepath.Join(p.Config.IndexDir, projectID+".bleve")
	}
	idx, err := search.OpenIndex(indexPath, sb, p.Logger)
	if err != nil {
		p.Logger.Printf("⚠️  code search disabled: %v", err)
		return nil, func() {}
	}
	if n, err := idx.Rebuild(ctx); err != nil {
		p.Logger.Printf("⚠️  failed to index workspace: %v", err)
	} else {
		p.Logger.Printf("📚 indexed %d files", n)
	}

	w, err := search.NewWatcher(sb.HostDir(), idx, p.Logger)
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		p.Logger.Printf("⚠️  workspace watcher disabled: %v", err)
		w = nil
	}
	return idx, func() {
		if w != nil {
			if err := w.Stop(); err != nil {
				p.Logger.Printf("⚠️  failed to stop watcher: %v", err)
			}
		}
		if err := idx.Close(); err != nil {
			p.Logger.Printf("⚠️  failed to close search index: %v", err)
		}
	}
}

// releaseSandbox removes the sandbox of a finished build and stops, but
// keeps, one a later job may resume in.
func (p *Processor) releaseSandbox(ctx context.Context, sb sandbox.Sandbox, done bool) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if stopper, ok := sb.(interface{ Stop(context.Context) error }); ok && !done {
		err = stopper.Stop(ctx)
	} else {
		err = sb.Close(ctx)
	}
	if err != nil {
		p.Logger.Printf("⚠️  failed to release sandbox %s: %v", sb.ID(), err)
	}
}

// handoff asks for a founder summary unless spend is the reason the run
// stopped, and publishes it.
func (p *Processor) handoff(ctx context.Context, job Job, budget *engine.BudgetTracker, res Result) string {
	if p.Summarizer == nil || res.Status == StatusPausedBudget || res.Status == StatusInterrupted {
		return ""
	}
	snap, err := p.Store.Restore(ctx, job.SessionID)
	if err != nil || snap == nil {
		return ""
	}
	text, usage, err := p.Summarizer.GenerateHandoff(ctx, snap.History, res.Run.Status)
	if err != nil {
		p.Logger.Printf("⚠️  %v", err)
		return ""
	}
	budget.RecordCallCost(ctx, job.SessionID, job.UserID, p.Config.RunnerConfig().Model, usage.InputTokens, usage.OutputTokens)
	if p.Publisher != nil {
		ev := engine.Event{Type: EventHandoff, SessionID: job.SessionID, Summary: text,
			Data: map[string]any{"status": string(res.Status)}, At: time.Now().UTC()}
		if err := p.Publisher.Publish(ctx, job.ID, ev); err != nil {
			p.Logger.Printf("⚠️  failed to publish handoff: %v", err)
		}
	}
	return text
}

// sleepClearHook drops the sleep marker once a session wakes.
type sleepClearHook struct {
	engine.NopHook
	db     *store.DB
	logger *log.Logger
}

func (h sleepClearHook) OnWake(ctx context.Context, st *engine.RunState) {
	if err := h.db.ClearSleeping(ctx, st.SessionID); err != nil {
		h.logger.Printf("⚠️  failed to clear sleep marker for %s: %v", st.SessionID, err)
	}
}
