// Package rules evaluates bridge rules against sensor state and fires the
// actions of matching rules.
package rules

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// DefaultInterval is the evaluation period when none is configured.
const DefaultInterval = time.Second

// FireFunc replays one action of a matching rule on behalf of its owner.
type FireFunc func(ruleID, owner string, action datastore.Action)

// Poster hands work to the bridge control loop. It returns false once the loop is closed.
type Poster func(func()) bool

// Engine evaluates every rule once per tick and after every sensor state change.
type Engine struct {
	ds       *datastore.Datastore
	post     Poster
	fire     FireFunc
	interval time.Duration

	queued bool // an event-driven evaluation is waiting for its turn
}

// New creates a rule engine. A zero interval means DefaultInterval.
func New(ds *datastore.Datastore, post Poster, fire FireFunc, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{ds: ds, post: post, fire: fire, interval: interval}
}

// Subscribe re-evaluates the rules whenever sensor state changes. The evaluation
// runs as its own turn through later, so a rule whose actions change its own
// trigger sensor fires once per turn instead of inside a single flush.
// Changes seen before that turn share one evaluation.
func (e *Engine) Subscribe(bus *eventbus.Bus, later Poster) {
	bus.Subscribe(eventbus.SensorStateModified, func(ev eventbus.Event) {
		if e.queued {
			return
		}
		log.Debug().Str("sensor", ev.ID).Str("address", ev.Address).Msg("Sensor state changed, evaluating rules")
		e.queued = later(func() {
			e.queued = false
			e.Evaluate()
		})
	})
}

// Run posts an evaluation to the control loop every interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().Dur("interval", e.interval).Msg("Rule engine started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Rule engine stopping")
			return nil
		case <-ticker.C:
			if !e.post(e.Evaluate) {
				log.Info().Msg("Control loop closed, rule engine stopping")
				return nil
			}
		}
	}
}

// Evaluate checks every rule and fires the actions of those whose conditions all hold.
// Must be called on the control loop.
func (e *Engine) Evaluate() {
	now := e.ds.Now()

	for _, id := range e.ds.AllRuleIDs() {
		rule, ok := e.ds.Rule(id)
		if !ok {
			continue
		}
		if !e.matches(id, rule, now) {
			continue
		}

		rule.TimesTriggered++
		rule.LastTriggered = e.ds.DateString()
		e.ds.UpdateRule(id, rule)

		log.Debug().
			Str("rule", id).
			Str("name", rule.Name).
			Int("times_triggered", rule.TimesTriggered).
			Msg("Rule matched")

		for _, action := range rule.Actions {
			e.fire(id, rule.Owner, action)
		}
	}
}

func (e *Engine) matches(id string, rule *datastore.Rule, now time.Time) bool {
	for _, c := range rule.Conditions {
		sensor, ok := e.ds.Sensor(c.SensorID)
		if !ok {
			log.Debug().Str("rule", id).Str("sensor", c.SensorID).Msg("Rule condition names an unknown sensor")
			return false
		}

		switch c.Operator {
		case datastore.OpEq:
			if !Equal(sensor.State[c.Key], c.Value) {
				return false
			}
		case datastore.OpDx:
			at, ok := lastUpdated(sensor, now.Location())
			if !ok || !sameClock(at, now) {
				return false
			}
		case datastore.OpDdx:
			at, ok := lastUpdated(sensor, now.Location())
			if !ok {
				return false
			}
			delay, err := datastore.ParseDDX(c.Value)
			if err != nil {
				// Conditions are validated when stored.
				log.Error().Err(err).Str("rule", id).Msg("Invalid ddx condition")
				return false
			}
			if !sameClock(at.Add(delay), now) {
				return false
			}
		default:
			// lt, gt, in, not in, stable and not stable are accepted but not evaluated.
		}
	}
	return true
}

func lastUpdated(sensor *datastore.Sensor, loc *time.Location) (time.Time, bool) {
	s, ok := sensor.State["lastupdated"].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(datastore.DateFormat, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// sameClock compares the time of day only. The date is ignored.
func sameClock(a, b time.Time) bool {
	return a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}

var leadingInt = regexp.MustCompile(`^\s*[+-]?\d+`)

// Equal compares a sensor state value with an eq condition value. The condition
// value is read as a boolean for "true" and "false" and as a leading integer
// otherwise. Booleans compare as 1 and 0 against numbers.
func Equal(state any, condition string) bool {
	var want float64
	switch condition {
	case "true":
		want = 1
	case "false":
		want = 0
	default:
		m := leadingInt.FindString(condition)
		if m == "" {
			return false
		}
		n, err := strconv.Atoi(strings.TrimSpace(m))
		if err != nil {
			return false
		}
		want = float64(n)
	}

	got, ok := number(state)
	return ok && got == want
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
