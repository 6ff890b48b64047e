package rules

import (
	"testing"
	"time"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/storage/kv"
)

type fired struct {
	rule   string
	owner  string
	action datastore.Action
}

type testBridge struct {
	ds    *datastore.Datastore
	now   time.Time
	calls []fired
	eng   *Engine
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	b := &testBridge{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	b.ds = datastore.New(kv.NewMemoryBucket("test"), eventbus.New(), datastore.Network{MAC: "aa:bb:cc:dd:ee:ff"},
		datastore.WithClock(func() time.Time { return b.now }))
	post := func(fn func()) bool { fn(); return true }
	fire := func(rule, owner string, a datastore.Action) {
		b.calls = append(b.calls, fired{rule, owner, a})
	}
	b.eng = New(b.ds, post, fire, 0)
	return b
}

func (b *testBridge) sensor(t *testing.T, typ string) string {
	t.Helper()
	id, err := b.ds.CreateSensor(typ, "client-"+typ, typ)
	if err != nil {
		t.Fatalf("CreateSensor(%s): %v", typ, err)
	}
	return id
}

func (b *testBridge) rule(t *testing.T, conds ...datastore.Condition) string {
	t.Helper()
	id := b.ds.CreateRule("owner1")
	r, _ := b.ds.Rule(id)
	r.Conditions = conds
	r.Actions = []datastore.Action{{Address: "/groups/0/action", Method: "PUT", Body: []byte(`{"on":true}`)}}
	b.ds.UpdateRule(id, r)
	return id
}

func cond(t *testing.T, address, op, value string) datastore.Condition {
	t.Helper()
	c, err := datastore.NewCondition(address, op, value)
	if err != nil {
		t.Fatalf("NewCondition(%q): %v", address, err)
	}
	return c
}

func TestEqual(t *testing.T) {
	tests := []struct {
		state any
		cond  string
		want  bool
	}{
		{true, "true", true},
		{false, "true", false},
		{false, "false", true},
		{float64(2002), "2002", true},
		{float64(2002), "2003", false},
		{float64(34), "34abc", true},
		{true, "1", true},
		{"5", "5", true},
		{"none", "5", false},
		{nil, "false", false},
		{float64(1), "on", false},
	}
	for _, tt := range tests {
		if got := Equal(tt.state, tt.cond); got != tt.want {
			t.Errorf("Equal(%v, %q) = %v, want %v", tt.state, tt.cond, got, tt.want)
		}
	}
}

func TestEqMatchFiresActions(t *testing.T) {
	b := newTestBridge(t)
	sid := b.sensor(t, "CLIPGenericFlag")
	rid := b.rule(t, cond(t, "/sensors/"+sid+"/state/flag", "eq", "true"))

	b.eng.Evaluate()
	if len(b.calls) != 0 {
		t.Fatalf("fired %d actions before the flag was set", len(b.calls))
	}

	if err := b.ds.UpdateSensorState(sid, map[string]any{"flag": true}); err != nil {
		t.Fatal(err)
	}
	b.eng.Evaluate()

	if len(b.calls) != 1 {
		t.Fatalf("fired %d actions, want 1", len(b.calls))
	}
	if c := b.calls[0]; c.rule != rid || c.owner != "owner1" || c.action.Address != "/groups/0/action" {
		t.Errorf("fired %+v", c)
	}
	r, _ := b.ds.Rule(rid)
	if r.TimesTriggered != 1 {
		t.Errorf("TimesTriggered = %d, want 1", r.TimesTriggered)
	}
	if r.LastTriggered != "2024-06-01T12:00:00" {
		t.Errorf("LastTriggered = %q", r.LastTriggered)
	}
}

func TestAllConditionsMustHold(t *testing.T) {
	b := newTestBridge(t)
	flag := b.sensor(t, "CLIPGenericFlag")
	status := b.sensor(t, "CLIPGenericStatus")
	b.rule(t,
		cond(t, "/sensors/"+flag+"/state/flag", "eq", "true"),
		cond(t, "/sensors/"+status+"/state/status", "eq", "3"),
	)

	b.ds.UpdateSensorState(flag, map[string]any{"flag": true})
	b.eng.Evaluate()
	if len(b.calls) != 0 {
		t.Fatalf("fired with one condition false")
	}

	b.ds.UpdateSensorState(status, map[string]any{"status": float64(3)})
	b.eng.Evaluate()
	if len(b.calls) != 1 {
		t.Errorf("fired %d actions, want 1", len(b.calls))
	}
}

func TestDxMatchesSecondOfUpdate(t *testing.T) {
	b := newTestBridge(t)
	sid := b.sensor(t, "ZGPSwitch")
	b.rule(t, cond(t, "/sensors/"+sid+"/state/lastupdated", "dx", ""))

	b.ds.UpdateSensorState(sid, map[string]any{"buttonevent": float64(34)})
	b.eng.Evaluate()
	if len(b.calls) != 1 {
		t.Fatalf("fired %d actions in the second of the update, want 1", len(b.calls))
	}

	b.now = b.now.Add(time.Second)
	b.eng.Evaluate()
	if len(b.calls) != 1 {
		t.Errorf("fired %d actions a second later, want 1", len(b.calls))
	}

	// Only the time of day is compared.
	b.now = b.now.Add(24*time.Hour - time.Second)
	b.eng.Evaluate()
	if len(b.calls) != 2 {
		t.Errorf("fired %d actions a day later, want 2", len(b.calls))
	}
}

func TestDdxMatchesAfterDelay(t *testing.T) {
	b := newTestBridge(t)
	sid := b.sensor(t, "ZLLPresence")
	b.rule(t,
		cond(t, "/sensors/"+sid+"/state/presence", "eq", "false"),
		cond(t, "/sensors/"+sid+"/state/presence", "ddx", "PT00:05:00"),
	)

	b.ds.UpdateSensorState(sid, map[string]any{"presence": false})
	b.eng.Evaluate()
	if len(b.calls) != 0 {
		t.Fatal("ddx fired immediately")
	}

	b.now = b.now.Add(5 * time.Minute)
	b.eng.Evaluate()
	if len(b.calls) != 1 {
		t.Errorf("fired %d actions after the delay, want 1", len(b.calls))
	}
}

func TestUnevaluatedOperatorsPass(t *testing.T) {
	b := newTestBridge(t)
	sid := b.sensor(t, "ZLLTemperature")
	b.rule(t, cond(t, "/sensors/"+sid+"/state/temperature", "gt", "100000"))

	b.eng.Evaluate()
	if len(b.calls) != 1 {
		t.Errorf("fired %d actions, want 1", len(b.calls))
	}
}

func TestUnknownSensorNeverMatches(t *testing.T) {
	b := newTestBridge(t)
	b.rule(t, cond(t, "/sensors/99/state/flag", "eq", "true"))

	b.eng.Evaluate()
	if len(b.calls) != 0 {
		t.Errorf("fired %d actions, want 0", len(b.calls))
	}
}

func TestSensorEventTriggersEvaluation(t *testing.T) {
	b := newTestBridge(t)
	bus := eventbus.New()
	var later []func()
	b.eng.Subscribe(bus, func(fn func()) bool { later = append(later, fn); return true })
	sid := b.sensor(t, "CLIPGenericFlag")
	b.rule(t, cond(t, "/sensors/"+sid+"/state/flag", "eq", "true"))

	b.ds.UpdateSensorState(sid, map[string]any{"flag": true})
	ev := eventbus.Event{Type: eventbus.SensorStateModified, ID: sid, Address: "/sensors/" + sid + "/state/flag", Value: true}
	bus.Deliver([]eventbus.Event{ev, ev})

	if len(b.calls) != 0 {
		t.Errorf("fired %d actions during delivery, want 0", len(b.calls))
	}
	if len(later) != 1 {
		t.Fatalf("queued %d evaluations, want 1", len(later))
	}
	later[0]()
	if len(b.calls) != 1 {
		t.Errorf("fired %d actions, want 1", len(b.calls))
	}
}

func TestSelfTriggeringRuleFiresOncePerTurn(t *testing.T) {
	b := newTestBridge(t)
	bus := eventbus.New()
	var later []func()
	b.eng.Subscribe(bus, func(fn func()) bool { later = append(later, fn); return true })
	sid := b.sensor(t, "CLIPGenericFlag")
	b.rule(t, cond(t, "/sensors/"+sid+"/state/flag", "eq", "true"))

	// The action rewrites the trigger sensor, as a rule PUT to its own state would.
	ev := eventbus.Event{Type: eventbus.SensorStateModified, ID: sid, Address: "/sensors/" + sid + "/state/flag", Value: true}
	b.eng.fire = func(rule, owner string, a datastore.Action) {
		b.calls = append(b.calls, fired{rule, owner, a})
		bus.Publish(ev)
	}

	b.ds.UpdateSensorState(sid, map[string]any{"flag": true})
	bus.Deliver([]eventbus.Event{ev})

	for turn := 1; turn <= 3; turn++ {
		if len(later) != 1 {
			t.Fatalf("turn %d: queued %d evaluations, want 1", turn, len(later))
		}
		next := later[0]
		later = nil
		next()
		bus.Flush()
		if len(b.calls) != turn {
			t.Errorf("turn %d: fired %d actions, want %d", turn, len(b.calls), turn)
		}
	}
}
