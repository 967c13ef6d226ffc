package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/jobs"
	"github.com/ChamsBouzaiene/cofounder/internal/ledger"
	"github.com/ChamsBouzaiene/cofounder/internal/metrics"
	"github.com/ChamsBouzaiene/cofounder/internal/notify"
	"github.com/ChamsBouzaiene/cofounder/internal/prompts"
	"github.com/ChamsBouzaiene/cofounder/internal/providers"
	"github.com/ChamsBouzaiene/cofounder/internal/session"
	"github.com/ChamsBouzaiene/cofounder/internal/wake"
)

type runOptions struct {
	jobFile     string
	contextFile string
	job         jobs.Job
	resumeDue   bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run or resume a build job",
		Example: `  cofounder run --job job.yaml
  cofounder run --user u1 --project bookly --context context.yaml
  cofounder run --resume-due`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.jobFile, "job", "", "YAML job file")
	f.StringVar(&opts.contextFile, "context", "", "YAML business context (interview, scope, plan)")
	f.StringVar(&opts.job.UserID, "user", "", "user id")
	f.StringVar(&opts.job.ProjectID, "project", "", "project id")
	f.StringVar(&opts.job.SessionID, "session", "", "session id (default: project id)")
	f.StringVar(&opts.job.Task, "task", "", "opening instruction for a fresh session")
	f.BoolVar(&opts.resumeDue, "resume-due", false, "resume every session whose budget sleep has ended")
	return cmd
}

func (o runOptions) resolveJob() (jobs.Job, error) {
	job := o.job
	if o.jobFile != "" {
		fromFile, err := jobs.LoadJob(o.jobFile)
		if err != nil {
			return jobs.Job{}, err
		}
		// flags win over the file
		if job.UserID == "" {
			job.UserID = fromFile.UserID
		}
		if job.ProjectID == "" {
			job.ProjectID = fromFile.ProjectID
		}
		if job.SessionID == "" {
			job.SessionID = fromFile.SessionID
		}
		if job.Task == "" {
			job.Task = fromFile.Task
		}
		job.ID = fromFile.ID
		job.Context = fromFile.Context
	}
	if o.contextFile != "" {
		data, err := os.ReadFile(o.contextFile)
		if err != nil {
			return jobs.Job{}, fmt.Errorf("failed to read context file: %w", err)
		}
		var bc prompts.BusinessContext
		if err := yaml.Unmarshal(data, &bc); err != nil {
			return jobs.Job{}, fmt.Errorf("failed to parse context file: %w", err)
		}
		job.Context = &bc
	}
	return job, nil
}

func runJob(cmd *cobra.Command, opts runOptions) error {
	logger := stderr(cmd)
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var job jobs.Job
	if !opts.resumeDue {
		var err error
		if job, err = opts.resolveJob(); err != nil {
			return err
		}
		if err := job.Normalize(); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	llm, model, err := providers.NewLLMClient(cfg.LLM)
	if err != nil {
		return err
	}
	cfg.LLM.Model = model

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		costs     engine.CostStore = ledger.NewMemoryStore()
		publisher engine.Publisher = notify.LogPublisher{L: logger}
	)
	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		logger.Printf("⚠️  %v; costs stay in memory and wake signals are local only", err)
	}
	if rdb != nil {
		defer rdb.Close()
		if costs, err = ledger.NewRedisStore(rdb); err != nil {
			return err
		}
		rp, err := notify.NewRedisPublisher(notify.Options{Redis: rdb})
		if err != nil {
			return err
		}
		publisher = notify.Multi{publisher, rp}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	wakes := wake.NewRegistry()

	proc, err := jobs.NewProcessor(jobs.Deps{
		Config:     cfg,
		Store:      db,
		Costs:      costs,
		Publisher:  publisher,
		Wakes:      wakes,
		LLM:        llm,
		Hooks:      engine.Hooks{metrics.NewHook(reg)},
		Summarizer: session.NewSummarizer(llm, model),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if rdb != nil {
		g.Go(func() error {
			return wake.NewRedisListener(rdb, wakes).Run(gctx, nil)
		})
	}
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Printf("📈 metrics on http://%s/metrics", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		if opts.resumeDue {
			results, err := proc.ResumeDue(gctx, time.Now())
			for _, res := range results {
				printResult(cmd, res)
			}
			return err
		}
		res, err := proc.Process(gctx, job)
		if err != nil {
			return err
		}
		printResult(cmd, res)
		return nil
	})
	return g.Wait()
}

func printResult(cmd *cobra.Command, res jobs.Result) {
	printf(cmd, "job:        %s\n", res.JobID)
	printf(cmd, "session:    %s\n", res.SessionID)
	printf(cmd, "status:     %s\n", res.Status)
	printf(cmd, "iterations: %d\n", res.Run.Iterations)
	printf(cmd, "cost:       $%.4f\n", float64(res.Run.SessionCost)/1e6)
	if res.Run.StopMessage != "" {
		printf(cmd, "stopped:    %s\n", res.Run.StopMessage)
	}
	if res.Status.Resumable() {
		printf(cmd, "resume:     cofounder run --user <user> --project <project> --session %s\n", res.SessionID)
	} else if res.Status != jobs.StatusCompleted {
		printf(cmd, "next:       a new job on session %s starts fresh from the workspace\n", res.SessionID)
	}
	if res.Handoff != "" {
		printf(cmd, "\n%s\n", res.Handoff)
	}
	if res.Run.FinalText != "" && res.Handoff == "" {
		printf(cmd, "\n%s\n", res.Run.FinalText)
	}
}
