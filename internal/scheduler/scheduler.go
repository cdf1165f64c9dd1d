package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrStarted is returned by Start on a running scheduler and by Add after Start.
var ErrStarted = errors.New("scheduler already started")

// Job is a periodic unit of work.
type Job struct {
	ID         string
	Interval   time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// JobStatus is a snapshot of one job.
type JobStatus struct {
	ID           string        `json:"id"`
	Interval     time.Duration `json:"interval"`
	Runs         int           `json:"runs"`
	Running      bool          `json:"running"`
	LastStart    time.Time     `json:"last_start,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitzero"`
}

type jobState struct {
	job    Job
	status JobStatus
}

// Scheduler runs jobs one at a time on a single goroutine. A job that comes
// due while another run is in flight runs once when the worker is free, no
// matter how many of its ticks were missed.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []*jobState
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	now     func() time.Time
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{now: time.Now}
}

// Add registers job. Jobs must be added before Start.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrStarted
	}
	if job.ID == "" || job.Run == nil {
		return fmt.Errorf("job requires an id and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", job.ID)
	}
	for _, j := range s.jobs {
		if j.job.ID == job.ID {
			return fmt.Errorf("job %q already registered", job.ID)
		}
	}

	s.jobs = append(s.jobs, &jobState{
		job:    job,
		status: JobStatus{ID: job.ID, Interval: job.Interval},
	})
	return nil
}

// Start launches the worker. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	now := s.now()
	for _, j := range s.jobs {
		if j.job.RunAtStart {
			j.status.NextRun = now
		} else {
			j.status.NextRun = now.Add(j.job.Interval)
		}
	}

	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	go s.loop(ctx)
	return nil
}

// Stop cancels the scheduler context and returns without waiting for an
// in-flight run. Use Done to wait for the worker to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		log.Info().Msg("Scheduler stopping")
	}
}

// Done is closed when the worker has exited. It is nil before Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Status returns a snapshot of every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.status
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		if j := s.due(); j != nil {
			s.run(ctx, j)
			continue
		}

		next, ok := s.nextRun()
		if !ok {
			<-ctx.Done()
			return
		}

		timer.Reset(max(next.Sub(s.now()), 0))
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// due returns the most overdue job, or nil. Ties go to the job registered first.
func (s *Scheduler) due() *jobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var pick *jobState
	for _, j := range s.jobs {
		if now.Before(j.status.NextRun) {
			continue
		}
		if pick == nil || j.status.NextRun.Before(pick.status.NextRun) {
			pick = j
		}
	}
	return pick
}

func (s *Scheduler) nextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for _, j := range s.jobs {
		if next.IsZero() || j.status.NextRun.Before(next) {
			next = j.status.NextRun
		}
	}
	return next, !next.IsZero()
}

func (s *Scheduler) run(ctx context.Context, j *jobState) {
	start := s.now()

	s.mu.Lock()
	j.status.Running = true
	j.status.LastStart = start
	// Ticks missed during this run collapse into a single catch-up run.
	j.status.NextRun = start.Add(j.job.Interval)
	s.mu.Unlock()

	logger := log.With().Str("job", j.job.ID).Logger()
	logger.Debug().Msg("Job started")

	err := safeRun(ctx, j.job.Run)
	elapsed := s.now().Sub(start)

	s.mu.Lock()
	j.status.Running = false
	j.status.Runs++
	j.status.LastDuration = elapsed
	j.status.LastError = ""
	if err != nil {
		j.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Dur("duration", elapsed).Msg("Job failed")
		return
	}
	logger.Debug().Dur("duration", elapsed).Msg("Job finished")
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
