package cron

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

type Options struct {
	Location   *time.Location
	QuietStart int
	QuietEnd   int
	// Grace is how long after its time a daily job may still fire when the
	// exact alarm was missed.
	Grace time.Duration
	// Tick is the re-evaluation cadence; defaults to one minute.
	Tick   time.Duration
	Rand   func(n int) int
	Logger zerolog.Logger
}

type windowState struct {
	id     string
	offset int
	fired  bool
}

type Service struct {
	OnJob func(ctx context.Context, job Job) error

	mu         sync.Mutex
	jobs       []Job
	loc        *time.Location
	quietStart int
	quietEnd   int
	grace      time.Duration
	tick       time.Duration
	markers    map[string]string
	windows    map[string]*windowState
	rand       func(n int) int
	now        func() time.Time
	log        zerolog.Logger

	cron    *rcron.Cron
	running sync.WaitGroup
	cancel  context.CancelFunc
	stopCh  chan struct{}
}

func NewService(jobs []Job, opts Options) *Service {
	s := &Service{
		jobs:       append([]Job(nil), jobs...),
		loc:        opts.Location,
		quietStart: opts.QuietStart,
		quietEnd:   opts.QuietEnd,
		grace:      opts.Grace,
		tick:       opts.Tick,
		markers:    make(map[string]string),
		windows:    make(map[string]*windowState),
		rand:       opts.Rand,
		now:        time.Now,
		log:        opts.Logger,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.grace <= 0 {
		s.grace = time.Minute
	}
	if s.tick <= 0 {
		s.tick = time.Minute
	}
	if s.rand == nil {
		s.rand = rand.IntN
	}
	return s
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	jobs := s.Jobs()
	c := rcron.New(rcron.WithSeconds(), rcron.WithLocation(s.loc))
	for _, job := range jobs {
		if !job.Daily() {
			continue
		}
		if QuietHours(job.Hour, s.quietStart, s.quietEnd) {
			s.log.Warn().Str("job", job.Name).Msg("job time falls in quiet hours, it will never fire")
		}
		jobCopy := job
		if _, err := c.AddFunc(job.Spec(), func() {
			s.trigger(runCtx, jobCopy, s.now())
		}); err != nil {
			cancel()
			return fmt.Errorf("register job %s (%s): %w", job.Name, job.Spec(), err)
		}
	}

	s.mu.Lock()
	s.cron = c
	s.cancel = cancel
	s.stopCh = stopCh
	s.mu.Unlock()

	c.Start()
	s.log.Info().Int("jobs", len(jobs)).Str("tz", s.loc.String()).Msg("scheduler started")

	go s.tickLoop(runCtx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

func (s *Service) tickLoop(ctx context.Context) {
	s.evaluate(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evaluate(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) evaluate(ctx context.Context) {
	now := s.now()
	for _, job := range s.Jobs() {
		s.trigger(ctx, job, now)
	}
}

func (s *Service) trigger(ctx context.Context, job Job, now time.Time) {
	if ctx.Err() != nil || !s.Check(job, now) {
		return
	}
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.execute(ctx, job)
	}()
}

func (s *Service) execute(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("job", job.Name).Interface("panic", r).Msg("job panicked")
		}
	}()

	s.log.Info().Str("job", job.Name).Msg("executing job")
	if s.OnJob == nil {
		s.log.Warn().Msg("no OnJob handler set")
		return
	}
	if err := s.OnJob(ctx, job); err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Msg("job failed")
	}
}

// Check decides whether job fires at now and, if so, claims the run in the
// same critical section. Daily jobs fire at most once per calendar day
// inside [time, time+grace); window jobs once per window at their random
// offset. Nothing fires during quiet hours or on excluded weekdays.
func (s *Service) Check(job Job, now time.Time) bool {
	now = now.In(s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if QuietHours(now.Hour(), s.quietStart, s.quietEnd) || !job.runsOn(now.Weekday()) {
		return false
	}
	today := now.Format(dateLayout)

	if job.Window != nil {
		if !s.claimWindow(job, now, today) {
			return false
		}
		s.markers[job.Name] = today
		return true
	}

	due := time.Date(now.Year(), now.Month(), now.Day(), job.Hour, job.Minute, 0, 0, s.loc)
	if now.Before(due) || !now.Before(due.Add(s.grace)) {
		return false
	}
	if s.markers[job.Name] == today {
		return false
	}
	s.markers[job.Name] = today
	return true
}

func (s *Service) claimWindow(job Job, now time.Time, today string) bool {
	w := job.Window
	if w.Hours <= 0 || now.Hour() < w.FromHour || now.Hour() >= w.ToHour {
		return false
	}
	idx := (now.Hour() - w.FromHour) / w.Hours
	start := w.FromHour + idx*w.Hours
	end := min(start+w.Hours, w.ToHour)
	id := fmt.Sprintf("%s#%d", today, idx)

	st := s.windows[job.Name]
	if st == nil || st.id != id {
		st = &windowState{id: id, offset: s.rand((end - start) * 60)}
		s.windows[job.Name] = st
		s.log.Debug().Str("job", job.Name).Str("window", id).Int("offset_min", st.offset).Msg("new window")
	}
	if st.fired {
		return false
	}
	elapsed := (now.Hour()-start)*60 + now.Minute()
	if elapsed < st.offset {
		return false
	}
	st.fired = true
	return true
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.cron = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("stop timeout waiting for running jobs")
	}
	s.log.Info().Msg("scheduler stopped")
}

func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// Markers returns the last fire date per job name.
func (s *Service) Markers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.markers))
	for k, v := range s.markers {
		out[k] = v
	}
	return out
}
