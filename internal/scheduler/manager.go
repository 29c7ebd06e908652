// Package scheduler runs source pipelines on their own intervals over a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/internal/pipeline"
)

const (
	DefaultWorkers         = 5
	DefaultTick            = 10 * time.Second
	DefaultShutdownTimeout = 60 * time.Second
)

// ErrShutdownTimeout is returned when in-flight cycles outlive the shutdown timeout.
var ErrShutdownTimeout = errors.New("scheduler: in-flight cycles did not finish before shutdown timeout")

// Runner executes one cycle for a named source.
type Runner interface {
	Name() string
	Run(ctx context.Context) (pipeline.CycleResult, error)
}

// Schedule pairs a runner with its poll interval.
type Schedule struct {
	Runner   Runner
	Interval time.Duration
}

// job is the scheduler's record for one source.
type job struct {
	name     string
	interval time.Duration
	runner   Runner
	nextRun  time.Time
	inFlight bool
	runs     int
	failures int
}

// JobStatus is a point-in-time view of a job record.
type JobStatus struct {
	Name     string
	Interval time.Duration
	NextRun  time.Time
	InFlight bool
	Runs     int
	Failures int
}

// Options tune the worker pool and loop timing.
type Options struct {
	Workers         int
	Tick            time.Duration
	ShutdownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	return o
}

// Manager owns the job records. A Manager runs one mode at a time.
type Manager struct {
	opts Options
	log  logger.Logger
	now  func() time.Time

	mu   sync.Mutex
	jobs []*job
}

// NewManager builds job records for schedules, rejecting empty and duplicate source names.
func NewManager(schedules []Schedule, opts Options, log logger.Logger) (*Manager, error) {
	m := &Manager{
		opts: opts.withDefaults(),
		log:  logger.OrNop(log),
		now:  time.Now,
	}

	seen := make(map[string]struct{}, len(schedules))
	for i, s := range schedules {
		if s.Runner == nil {
			return nil, fmt.Errorf("schedules[%d]: runner is nil", i)
		}
		name := strings.TrimSpace(s.Runner.Name())
		if name == "" {
			return nil, fmt.Errorf("schedules[%d]: source name is empty", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", name)
		}
		if s.Interval <= 0 {
			return nil, fmt.Errorf("source %q: interval must be positive", name)
		}
		seen[name] = struct{}{}
		m.jobs = append(m.jobs, &job{name: name, interval: s.Interval, runner: s.Runner})
	}
	return m, nil
}

// Jobs returns the job records sorted by name.
func (m *Manager) Jobs() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobStatus, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, JobStatus{
			Name:     j.name,
			Interval: j.interval,
			NextRun:  j.nextRun,
			InFlight: j.inFlight,
			Runs:     j.runs,
			Failures: j.failures,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// RunOnce fires every source once and waits for all cycles. If ctx is cancelled first, queued
// cycles are skipped and in-flight ones get up to the shutdown timeout.
func (m *Manager) RunOnce(ctx context.Context) error {
	if len(m.jobs) == 0 {
		m.log.WarnObj("no sources configured; nothing to run", "scheduler_state", nil)
		return nil
	}
	queue := make(chan *job, len(m.jobs))
	wg := m.startWorkers(ctx, queue)

	m.submit(queue, m.now(), true)
	close(queue)

	done := waitGroupDone(wg)
	select {
	case <-done:
		m.log.InfoObj("all sources processed once", "scheduler_state", m.summary())
		return nil
	case <-ctx.Done():
		return m.shutdown(done)
	}
}

// Run fires every source immediately, then checks for due sources every tick until ctx is
// cancelled. A source is never resubmitted while its previous cycle is in flight.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.jobs) == 0 {
		m.log.WarnObj("no sources configured; scheduler idle", "scheduler_state", nil)
		<-ctx.Done()
		return nil
	}
	queue := make(chan *job, len(m.jobs))
	wg := m.startWorkers(ctx, queue)

	m.log.InfoObj("scheduler loop starting", "scheduler_state", map[string]any{
		"sources": len(m.jobs),
		"workers": m.opts.Workers,
		"tick":    m.opts.Tick.String(),
	})
	m.submit(queue, m.now(), true)

	ticker := time.NewTicker(m.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(queue)
			m.log.InfoObj("scheduler loop exiting", "reason", ctx.Err().Error())
			return m.shutdown(waitGroupDone(wg))
		case <-ticker.C:
			m.submit(queue, m.now(), false)
		}
	}
}

// submit queues every job that is due (or all when force is set) and not in flight. The queue
// holds one slot per job, so sends never block.
func (m *Manager) submit(queue chan<- *job, now time.Time, force bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.inFlight {
			continue
		}
		if !force && now.Before(j.nextRun) {
			continue
		}
		j.inFlight = true
		queue <- j
	}
}

func (m *Manager) startWorkers(ctx context.Context, queue <-chan *job) *sync.WaitGroup {
	workers := m.opts.Workers
	if workers > len(m.jobs) {
		workers = len(m.jobs)
	}
	cycleCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				if ctx.Err() != nil {
					m.log.InfoObj("skipping queued cycle on shutdown", "cycle_skipped", map[string]any{
						"source": j.name,
					})
					m.release(j, false, false)
					continue
				}
				m.execute(cycleCtx, j)
			}
		}()
	}
	return &wg
}

// execute runs one cycle, recovering a panic so the worker and other sources keep going.
func (m *Manager) execute(ctx context.Context, j *job) {
	failed := true
	defer func() {
		if r := recover(); r != nil {
			m.log.ErrorObj("source cycle panicked", "cycle_panic", map[string]any{
				"source": j.name,
				"panic":  fmt.Sprint(r),
			})
		}
		m.release(j, true, failed)
	}()

	res, err := j.runner.Run(ctx)
	failed = err != nil
	fields := map[string]any{
		"source":      j.name,
		"state":       res.State.String(),
		"fetched":     res.Fetched,
		"new":         res.New,
		"deferred":    res.Skipped,
		"media":       res.Media,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		m.log.ErrorObj("source cycle failed", "cycle_result", fields)
		return
	}
	m.log.InfoObj("source cycle completed", "cycle_result", fields)
}

// release clears the in-flight flag. After a run the next due time is interval from now.
func (m *Manager) release(j *job, ran, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.inFlight = false
	if !ran {
		return
	}
	j.runs++
	if failed {
		j.failures++
	}
	j.nextRun = m.now().Add(j.interval)
}

func (m *Manager) shutdown(done <-chan struct{}) error {
	timer := time.NewTimer(m.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		m.log.InfoObj("scheduler stopped", "scheduler_state", m.summary())
		return nil
	case <-timer.C:
		m.log.ErrorObj("shutdown timeout reached with cycles in flight", "scheduler_state", map[string]any{
			"timeout":   m.opts.ShutdownTimeout.String(),
			"in_flight": m.inFlight(),
		})
		return ErrShutdownTimeout
	}
}

func (m *Manager) inFlight() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, j := range m.jobs {
		if j.inFlight {
			names = append(names, j.name)
		}
	}
	return names
}

func (m *Manager) summary() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs, failures := 0, 0
	for _, j := range m.jobs {
		runs += j.runs
		failures += j.failures
	}
	return map[string]any{
		"sources":  len(m.jobs),
		"runs":     runs,
		"failures": failures,
	}
}

func waitGroupDone(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
