// Package worker runs the claim-and-process loop that drains the run
// queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/mkessler/dossier/internal/models"
	"github.com/mkessler/dossier/internal/notify"
	"github.com/mkessler/dossier/internal/pipeline"
	"github.com/mkessler/dossier/internal/queue"
	"gorm.io/gorm"
)

// DefaultLeaseFor bounds how long a claimed job stays invisible to
// other workers before it can be reclaimed.
const DefaultLeaseFor = 5 * time.Minute

// Runner executes one analysis attempt for a claimed run.
type Runner interface {
	Run(ctx context.Context, run *models.Run) (*pipeline.Result, error)
}

// PipelineRunner is the production Runner backed by the analysis
// pipeline.
type PipelineRunner struct {
	Token        string
	WorkRoot     string
	ArtifactRoot string
	Binary       string
	Args         []string
	Timeout      time.Duration
}

// Run implements Runner.
func (p *PipelineRunner) Run(ctx context.Context, run *models.Run) (*pipeline.Result, error) {
	return pipeline.Execute(ctx, pipeline.ExecuteOpts{
		Owner:        run.Owner,
		Repo:         run.Repo,
		CommitSHA:    run.CommitSHA,
		RunID:        run.ID,
		Token:        p.Token,
		WorkRoot:     p.WorkRoot,
		ArtifactRoot: p.ArtifactRoot,
		Binary:       p.Binary,
		Args:         p.Args,
		Timeout:      p.Timeout,
	})
}

// Tick outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRequeued  = "requeued"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
	OutcomeLeaseLost = "lease_lost"
)

// TickResult reports what one claim-and-process cycle did.
type TickResult struct {
	Processed bool   `json:"processed"`
	RunID     string `json:"run_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Opts holds Loop dependencies.
type Opts struct {
	LeaseFor time.Duration
	Runner   Runner
	Notifier notify.Notifier // optional
	Out      io.Writer       // optional progress output
}

// Loop is the worker lifecycle object. The process entry point owns it
// explicitly: Start launches the poll timer, Stop waits for the
// goroutine to drain.
type Loop struct {
	db   *gorm.DB
	opts Opts

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Loop.
func New(db *gorm.DB, opts Opts) (*Loop, error) {
	if db == nil {
		return nil, fmt.Errorf("worker: db is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("worker: runner is required")
	}
	if opts.LeaseFor <= 0 {
		opts.LeaseFor = DefaultLeaseFor
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Loop{db: db, opts: opts}, nil
}

// Start launches the recurring poll. Returns an error if already
// running.
func (l *Loop) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("worker: poll interval must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return fmt.Errorf("worker: already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := l.Tick(ctx); err != nil {
					log.Printf("worker: tick: %v", err)
				}
			}
		}
	}()

	fmt.Fprintf(l.opts.Out, "Worker loop started (poll every %s)\n", interval)
	return nil
}

// Stop cancels the poll and waits for the loop goroutine to exit. Safe
// to call when not running.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick performs exactly one claim-and-process cycle. With no eligible
// job it returns immediately with Processed false and mutates nothing.
func (l *Loop) Tick(ctx context.Context) (TickResult, error) {
	run, job, err := queue.ClaimNext(l.db, l.opts.LeaseFor)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TickResult{}, nil
	}
	if err != nil {
		return TickResult{}, err
	}

	res := TickResult{Processed: true, RunID: run.ID, JobID: job.ID}

	if err := queue.MarkRunning(l.db, run); err != nil {
		return res, err
	}
	fmt.Fprintf(l.opts.Out, "Processing %s/%s@%.12s (attempt %d/%d)\n",
		run.Owner, run.Repo, run.CommitSHA, job.Attempts, job.MaxAttempts)

	out, runErr := l.opts.Runner.Run(ctx, run)
	if runErr == nil {
		summary := ""
		if out.Summary != nil {
			b, err := json.Marshal(out.Summary)
			if err != nil {
				return res, fmt.Errorf("worker: marshal summary: %w", err)
			}
			summary = string(b)
		}
		err := queue.CompleteSuccess(l.db, run, job, out.OutputDir, summary)
		if errors.Is(err, queue.ErrLeaseLost) {
			res.Outcome = OutcomeLeaseLost
			log.Printf("worker: run %s: %v", run.ID, err)
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Outcome = OutcomeSucceeded
		l.notifyFinished(run)
		return res, nil
	}

	if errors.Is(runErr, context.Canceled) {
		// Shutdown mid-attempt. Leave the lease to expire so the job
		// is reclaimed like after a worker crash; a recorded failure
		// here would spend an attempt on every routine restart.
		res.Outcome = OutcomeAborted
		return res, nil
	}

	// No credential may reach the stored error message.
	msg := pipeline.Redact(runErr.Error())
	dead, err := queue.CompleteFailure(l.db, run, job, msg)
	if errors.Is(err, queue.ErrLeaseLost) {
		res.Outcome = OutcomeLeaseLost
		log.Printf("worker: run %s: %v", run.ID, err)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Error = msg
	if dead {
		res.Outcome = OutcomeFailed
		l.notifyFinished(run)
	} else {
		res.Outcome = OutcomeRequeued
	}
	return res, nil
}

// notifyFinished delivers a terminal-state notification. Delivery
// failures are logged, never surfaced into the job state machine.
func (l *Loop) notifyFinished(run *models.Run) {
	if l.opts.Notifier == nil {
		return
	}
	if err := l.opts.Notifier.RunFinished(run); err != nil {
		log.Printf("worker: notify run %s: %v", run.ID, err)
	}
}
