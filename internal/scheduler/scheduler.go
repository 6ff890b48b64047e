package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// FireFunc replays a schedule's command. It runs on the bridge control loop.
type FireFunc func(id string, cmd datastore.Command)

// Poster hands work to the bridge control loop. It returns false once the loop is closed.
type Poster func(func()) bool

// Scheduler keeps one timer job per enabled schedule.
//
// Recurring expressions become cron entries; timers and absolute times use time.AfterFunc.
// Every trigger is posted to the control loop, and the job map is only changed under mu.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
	gen  uint64

	ds   *datastore.Datastore
	post Poster
	fire FireFunc
	cron *cron.Cron
	rnd  func() float64
}

type job struct {
	gen       uint64
	expr      *TimeExpr
	entry     cron.EntryID
	timer     *time.Timer
	remaining int
	spec      string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRand replaces the jitter source of recurRand schedules. rnd returns values in [0, 1).
func WithRand(rnd func() float64) Option {
	return func(s *Scheduler) { s.rnd = rnd }
}

// New creates a scheduler for the schedules of ds.
func New(ds *datastore.Datastore, post Poster, fire FireFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs: make(map[string]*job),
		ds:   ds,
		post: post,
		fire: fire,
		cron: cron.New(cron.WithSeconds()),
		rnd:  rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe keeps jobs in step with schedule events on bus.
func (s *Scheduler) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.ScheduleCreated, func(ev eventbus.Event) { s.Add(ev.ID) })
	bus.Subscribe(eventbus.ScheduleModified, func(ev eventbus.Event) { s.Add(ev.ID) })
	bus.Subscribe(eventbus.ScheduleDeleted, func(ev eventbus.Event) { s.Remove(ev.ID) })
	bus.Subscribe(eventbus.RuleEngineReload, func(eventbus.Event) { s.Reload() })
}

// Start starts the cron runner and creates jobs for every stored schedule.
// Must be called on the control loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.Reload()
	log.Info().Int("jobs", s.Len()).Msg("Scheduler started")
}

// Stop cancels every job and waits for running cron callbacks to return.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancelAll()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Info().Msg("Scheduler stopped")
	case <-ctx.Done():
		log.Warn().Msg("Scheduler stop timed out")
	}
}

// Reload drops every job and rebuilds them from the datastore.
func (s *Scheduler) Reload() {
	s.cancelAll()
	for _, id := range s.ds.AllScheduleIDs() {
		s.Add(id)
	}
}

// Add (re)creates the job of schedule id. Disabled and unknown schedules end up with no job.
func (s *Scheduler) Add(id string) {
	s.Remove(id)

	sch, ok := s.ds.Schedule(id)
	if !ok || sch.Status == "disabled" {
		return
	}

	expr, err := ParseTimeExpr(sch.LocalTime)
	if err != nil {
		// The API rejects bad expressions, so this only happens with restored state.
		log.Error().Err(err).Str("schedule", id).Msg("Schedule has an invalid time, no job created")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	j := &job{gen: s.gen, expr: expr}

	switch expr.Kind {
	case KindRecur, KindRecurRand:
		var jitter time.Duration
		if expr.Kind == KindRecurRand {
			jitter = time.Duration(s.rnd()*expr.Random.Seconds()) * time.Second
		}
		j.spec = expr.CronSpec(jitter)
		if loc := s.ds.Location(); loc != time.Local {
			j.spec = "CRON_TZ=" + loc.String() + " " + j.spec
		}
		gen := j.gen
		entry, err := s.cron.AddFunc(j.spec, func() { s.trigger(id, gen) })
		if err != nil {
			log.Error().Err(err).Str("schedule", id).Str("spec", j.spec).Msg("Failed to add cron entry")
			return
		}
		j.entry = entry

	case KindTimer:
		j.remaining = expr.Repeat
		if j.remaining == 0 {
			j.remaining = 1
		}
		sch.StartTime = s.ds.Now().UTC().Format(datastore.DateFormat)
		s.ds.UpdateSchedule(id, sch)
		s.arm(id, j, expr.Offset)

	case KindAbsolute:
		d := expr.At(s.ds.Location()).Sub(s.ds.Now())
		if d < 0 {
			log.Debug().Str("schedule", id).Str("time", expr.Raw).Msg("Schedule time has passed, no job created")
			return
		}
		s.arm(id, j, d)

	default:
		panic(fmt.Sprintf("scheduler: unhandled time kind %q", expr.Kind))
	}

	s.jobs[id] = j
	log.Debug().
		Str("schedule", id).
		Str("kind", string(expr.Kind)).
		Str("localtime", expr.Raw).
		Str("spec", j.spec).
		Msg("Schedule job created")
}

func (s *Scheduler) arm(id string, j *job, d time.Duration) {
	gen := j.gen
	j.timer = time.AfterFunc(d, func() { s.trigger(id, gen) })
}

// Remove cancels the job of schedule id, if any.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		s.cancel(j)
		delete(s.jobs, id)
	}
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, j := range s.jobs {
		s.cancel(j)
		delete(s.jobs, id)
	}
}

func (s *Scheduler) cancel(j *job) {
	if j.timer != nil {
		j.timer.Stop()
	}
	if j.entry != 0 {
		s.cron.Remove(j.entry)
	}
}

func (s *Scheduler) trigger(id string, gen uint64) {
	if !s.post(func() { s.run(id, gen) }) {
		log.Debug().Str("schedule", id).Msg("Control loop closed, schedule trigger dropped")
	}
}

// run fires schedule id if gen still names its current job.
func (s *Scheduler) run(id string, gen uint64) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok || j.gen != gen {
		return
	}

	sch, ok := s.ds.Schedule(id)
	if !ok {
		s.Remove(id)
		return
	}

	log.Info().
		Str("schedule", id).
		Str("name", sch.Name).
		Str("method", sch.Command.Method).
		Str("address", sch.Command.Address).
		Msg("Schedule fired")
	s.fire(id, sch.Command)

	switch j.expr.Kind {
	case KindTimer:
		if j.remaining > 0 {
			j.remaining--
		}
		if j.remaining != 0 {
			s.mu.Lock()
			s.arm(id, j, j.expr.Offset)
			s.mu.Unlock()
			return
		}
		s.finish(id, sch)
	case KindAbsolute:
		s.finish(id, sch)
	}
}

// finish retires a one-shot schedule after its last fire.
func (s *Scheduler) finish(id string, sch *datastore.Schedule) {
	s.Remove(id)

	if sch.AutoDelete {
		s.ds.DeleteSchedule(id)
		s.ds.Emit(eventbus.Event{Type: eventbus.ScheduleDeleted, ID: id})
		log.Debug().Str("schedule", id).Msg("Schedule deleted after firing")
		return
	}

	sch.Status = "disabled"
	s.ds.UpdateSchedule(id, sch)
	s.ds.Emit(eventbus.Event{Type: eventbus.ScheduleModified, ID: id, Object: sch})
}

// Len returns the number of live jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Spec returns the cron spec of a recurring job, and whether schedule id has a job at all.
func (s *Scheduler) Spec(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return "", false
	}
	return j.spec, true
}
