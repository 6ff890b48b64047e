package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/amimof/huego"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/db"
	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/ledger"
	"github.com/dokzlo13/huebridge/internal/storage/kv"
)

func testConfig() Config {
	return Config{
		Name: "Test bridge",
		Network: datastore.Network{
			Address: "127.0.0.1",
			Netmask: "255.255.255.0",
			Gateway: "127.0.0.1",
			MAC:     "aa:bb:cc:dd:ee:ff",
		},
		BindAddress:     "127.0.0.1",
		RuleInterval:    time.Hour,
		ShutdownTimeout: 2 * time.Second,
	}
}

func startBridge(t *testing.T, bucket kv.Bucket, cfg Config, opts ...Option) *Bridge {
	t.Helper()
	b := New(bucket, cfg, opts...)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func do(t *testing.T, b *Bridge, fn func(ds *datastore.Datastore)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Do(ctx, fn); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

// eventually repeats check on the loop until it holds or the deadline passes.
func eventually(t *testing.T, b *Bridge, what string, check func(ds *datastore.Datastore) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var ok bool
		do(t, b, func(ds *datastore.Datastore) { ok = check(ds) })
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHueClientRoundTrip(t *testing.T) {
	b := startBridge(t, kv.NewMemoryBucket("test"), testConfig())
	if b.HTTPPort() == 0 {
		t.Fatal("HTTPPort() = 0 after Start")
	}
	host := "127.0.0.1:" + strconv.Itoa(b.HTTPPort())

	do(t, b, func(ds *datastore.Datastore) {
		ds.CreateLight("node-1", "Desk", datastore.TypeExtendedColor, "")
	})

	if _, err := huego.New(host, "").CreateUser("huego#e2e"); err == nil {
		t.Fatal("CreateUser() without link button succeeded")
	}

	do(t, b, func(*datastore.Datastore) { b.PressLinkButton(time.Minute) })
	username, err := huego.New(host, "").CreateUser("huego#e2e")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	client := huego.New(host, username)

	lights, err := client.GetLights()
	if err != nil {
		t.Fatalf("GetLights() error = %v", err)
	}
	if len(lights) != 1 || lights[0].Name != "Desk" {
		t.Fatalf("GetLights() = %+v, want one light named Desk", lights)
	}

	if _, err := client.SetLightState(1, huego.State{On: false}); err != nil {
		t.Fatalf("SetLightState() error = %v", err)
	}
	light, err := client.GetLight(1)
	if err != nil {
		t.Fatalf("GetLight() error = %v", err)
	}
	if light.State.On {
		t.Error("light 1 still on after SetLightState")
	}

	var name string
	do(t, b, func(ds *datastore.Datastore) { name = ds.Config().Name })
	if name != "Test bridge" {
		t.Errorf("bridge name = %q, want %q", name, "Test bridge")
	}
}

func TestRuleFiresThroughDispatcher(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	hist := ledger.New(database.DB)

	b := startBridge(t, kv.NewMemoryBucket("test"), testConfig(), WithLedger(hist))

	var sensorID string
	do(t, b, func(ds *datastore.Datastore) {
		ds.CreateLight("node-1", "Desk", datastore.TypeDimmable, "")
		sensorID, err = ds.CreateSensor("CLIPGenericFlag", "flag-1", "Flag")
		if err != nil {
			t.Error(err)
			return
		}
		cond, cerr := datastore.NewCondition("/sensors/"+sensorID+"/state/flag", datastore.OpEq, "true")
		if cerr != nil {
			t.Error(cerr)
			return
		}
		owner, _ := ds.CreateUser("rules#test", false)
		id := ds.CreateRule(owner)
		r, _ := ds.Rule(id)
		r.Conditions = []datastore.Condition{cond}
		r.Actions = []datastore.Action{{
			Address: "/lights/1/state",
			Method:  "PUT",
			Body:    json.RawMessage(`{"on":false}`),
		}}
		ds.UpdateRule(id, r)
	})

	do(t, b, func(ds *datastore.Datastore) {
		if err := ds.UpdateSensorState(sensorID, map[string]any{"flag": true}); err != nil {
			t.Error(err)
		}
	})

	eventually(t, b, "rule action to switch light 1 off", func(ds *datastore.Datastore) bool {
		l, _ := ds.Light("1")
		return !l.State.On
	})

	entries, err := hist.Recent(b.BridgeID(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if e := entries[0]; e.Kind != ledger.KindRule || e.Method != "PUT" {
		t.Errorf("history entry = %+v", e)
	}
}

func TestSelfTriggeringRuleKeepsServing(t *testing.T) {
	b := startBridge(t, kv.NewMemoryBucket("test"), testConfig())

	var owner, sensorID, ruleID string
	do(t, b, func(ds *datastore.Datastore) {
		var err error
		sensorID, err = ds.CreateSensor("CLIPGenericFlag", "flag-1", "Flag")
		if err != nil {
			t.Error(err)
			return
		}
		cond, err := datastore.NewCondition("/sensors/"+sensorID+"/state/flag", datastore.OpEq, "true")
		if err != nil {
			t.Error(err)
			return
		}
		owner, _ = ds.CreateUser("rules#loop", false)
		ruleID = ds.CreateRule(owner)
		r, _ := ds.Rule(ruleID)
		r.Conditions = []datastore.Condition{cond}
		r.Actions = []datastore.Action{{
			Address: "/sensors/" + sensorID + "/state",
			Method:  "PUT",
			Body:    json.RawMessage(`{"flag":true}`),
		}}
		ds.UpdateRule(ruleID, r)
	})

	base := "http://127.0.0.1:" + strconv.Itoa(b.HTTPPort()) + "/api/" + owner
	req, err := http.NewRequest(http.MethodPut, base+"/sensors/"+sensorID+"/state", strings.NewReader(`{"flag":true}`))
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("PUT sensor state: %v", err)
	}
	resp.Body.Close()

	// The rule keeps re-triggering itself; the bridge must still answer.
	for i := 0; i < 5; i++ {
		resp, err := client.Get(base + "/config")
		if err != nil {
			t.Fatalf("GET /config while rule re-triggers: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET /config status = %d, want 200", resp.StatusCode)
		}
	}

	eventually(t, b, "the rule to fire more than once", func(ds *datastore.Datastore) bool {
		r, _ := ds.Rule(ruleID)
		return r.TimesTriggered > 1
	})
}

func TestStopFlushesState(t *testing.T) {
	bucket := kv.NewMemoryBucket("test")
	b := New(bucket, testConfig())
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	do(t, b, func(ds *datastore.Datastore) {
		ds.CreateLight("node-1", "Desk", datastore.TypeOnOff, "")
	})
	b.Stop()

	if b.Running() {
		t.Error("Running() = true after Stop")
	}

	restarted := New(bucket, testConfig())
	if err := restarted.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer restarted.Stop()
	do(t, restarted, func(ds *datastore.Datastore) {
		if _, ok := ds.Light("1"); !ok {
			t.Error("light 1 not restored after restart")
		}
	})
}

func TestLinkButtonWindow(t *testing.T) {
	cfg := testConfig()
	cfg.LinkButtonWindow = 20 * time.Millisecond
	b := startBridge(t, kv.NewMemoryBucket("test"), cfg)

	released := make(chan struct{}, 1)
	b.Bus().Subscribe(eventbus.LinkButton, func(ev eventbus.Event) {
		if pressed, _ := ev.Value.(bool); !pressed {
			released <- struct{}{}
		}
	})

	do(t, b, func(*datastore.Datastore) { b.PressLinkButton(0) })
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("link button was not released")
	}
	do(t, b, func(ds *datastore.Datastore) {
		if ds.LinkButton() {
			t.Error("LinkButton() = true after window")
		}
	})
}

func TestListenFailureEmitsHTTPError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := testConfig()
	cfg.Network.HTTPPort = busy.Addr().(*net.TCPAddr).Port

	b := New(kv.NewMemoryBucket("test"), cfg)
	failures := make(chan eventbus.Event, 1)
	b.Bus().Subscribe(eventbus.HTTPError, func(ev eventbus.Event) { failures <- ev })

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want listener failure to be non-fatal", err)
	}
	defer b.Stop()

	select {
	case ev := <-failures:
		if ev.Address == "" {
			t.Error("http-error event without address")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no http-error event")
	}
}

func TestStartTwice(t *testing.T) {
	b := startBridge(t, kv.NewMemoryBucket("test"), testConfig())
	if err := b.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil")
	}
}
