// Package jobs runs build jobs: it assembles the sandbox, tools, prompt and
// collaborators for a session and drives the agent loop to a job status.
package jobs

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/prompts"
)

// Status is the outcome of a job as the product reports it.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusPausedBudget     Status = "paused_budget"
	StatusPausedEscalation Status = "paused_escalation"
	StatusPausedIterations Status = "paused_iteration_limit"
	StatusStuck            Status = "stuck_repetition"
	StatusInterrupted      Status = "interrupted"
	StatusFailed           Status = "failed"
)

// StatusFor maps a run's terminal status to the job status. Policy stops
// are pauses, never failures.
func StatusFor(s engine.Status) Status {
	switch s {
	case engine.StatusCompleted:
		return StatusCompleted
	case engine.StatusBudgetExceeded:
		return StatusPausedBudget
	case engine.StatusEscalationThreshold:
		return StatusPausedEscalation
	case engine.StatusIterationLimit:
		return StatusPausedIterations
	case engine.StatusRepetitionDetected:
		return StatusStuck
	case engine.StatusInterrupted:
		return StatusInterrupted
	default:
		return StatusFailed
	}
}

// Resumable reports whether a later job on the same session picks up where
// this one stopped. Only an interrupted run is mid-flight; every other
// status is final and the next job on the session starts fresh.
func (s Status) Resumable() bool {
	return s == StatusInterrupted
}

// Job is one request to build (or keep building) a project.
type Job struct {
	ID        string `yaml:"id"`
	SessionID string `yaml:"session_id"`
	UserID    string `yaml:"user_id"`
	ProjectID string `yaml:"project_id"`
	// Task is the opening instruction of a fresh session.
	Task string `yaml:"task"`
	// Context is optional once a session has run; the workspace keeps a copy.
	Context *prompts.BusinessContext `yaml:"context"`
}

// DefaultTask opens a fresh session when a job does not name one.
const DefaultTask = "Build the MVP described in your instructions. Start by looking at what already exists in the workspace, then scaffold, implement, build and test it step by step."

// Normalize fills generated ids and defaults and validates the job.
func (j *Job) Normalize() error {
	if j.UserID == "" {
		return errors.New("job: user_id is required")
	}
	if j.ProjectID == "" {
		return errors.New("job: project_id is required")
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.SessionID == "" {
		j.SessionID = j.ProjectID
	}
	if j.Task == "" {
		j.Task = DefaultTask
	}
	return nil
}

// LoadJob reads a job from a YAML file.
func LoadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("failed to read job file: %w", err)
	}
	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("failed to parse job file %s: %w", path, err)
	}
	return j, nil
}

// Result is what processing a job produced.
type Result struct {
	JobID     string
	SessionID string
	Status    Status
	Run       engine.RunResult
	SandboxID string
	Handoff   string
}
