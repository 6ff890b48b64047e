package api

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/storage/kv"
)

type testBridge struct {
	t    *testing.T
	ds   *datastore.Datastore
	bus  *eventbus.Bus
	disp *Dispatcher
	user string
	seen []eventbus.Event
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	bus := eventbus.New()
	ds := datastore.New(kv.NewMemoryBucket("test"), bus, datastore.Network{
		Address:  "192.168.1.20",
		Netmask:  "255.255.255.0",
		Gateway:  "192.168.1.1",
		MAC:      "aa:bb:cc:dd:ee:ff",
		HTTPPort: 80,
	})
	tb := &testBridge{t: t, ds: ds, bus: bus, disp: NewDispatcher(ds)}
	tb.user, _ = ds.CreateUser("test#dispatcher", false)
	bus.SubscribeAll(func(ev eventbus.Event) { tb.seen = append(tb.seen, ev) })
	return tb
}

// run is t.Run with the bridge helpers reporting to the subtest.
func (tb *testBridge) run(t *testing.T, name string, fn func(t *testing.T)) {
	t.Run(name, func(t *testing.T) {
		parent := tb.t
		tb.t = t
		defer func() { tb.t = parent }()
		fn(t)
	})
}

func (tb *testBridge) do(method, path, body string) *Recorder {
	tb.t.Helper()
	rec := &Recorder{}
	tb.disp.Dispatch(rec, NewRequest(method, path, []byte(body)))
	tb.bus.Flush()
	return rec
}

func (tb *testBridge) api(method, path, body string) []map[string]any {
	tb.t.Helper()
	rec := tb.do(method, "/api/"+tb.user+path, body)
	if rec.Status != 200 {
		tb.t.Fatalf("%s %s status = %d, want 200", method, path, rec.Status)
	}
	var entries []map[string]any
	if err := json.Unmarshal(rec.Body, &entries); err != nil {
		tb.t.Fatalf("%s %s body %s: %v", method, path, rec.Body, err)
	}
	return entries
}

func (tb *testBridge) object(path string) map[string]any {
	tb.t.Helper()
	rec := tb.do("GET", "/api/"+tb.user+path, "")
	var obj map[string]any
	if err := json.Unmarshal(rec.Body, &obj); err != nil {
		tb.t.Fatalf("GET %s body %s: %v", path, rec.Body, err)
	}
	return obj
}

func (tb *testBridge) events(typ eventbus.EventType) []eventbus.Event {
	var out []eventbus.Event
	for _, ev := range tb.seen {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// errorOf returns the type and address of a single-error response.
func errorOf(t *testing.T, entries []map[string]any) (int, string) {
	t.Helper()
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want one error", entries)
	}
	e, ok := entries[0]["error"].(map[string]any)
	if !ok {
		t.Fatalf("entry = %v, want error", entries[0])
	}
	return int(e["type"].(float64)), e["address"].(string)
}

// successes flattens the success entries of a multi-status response.
func successes(entries []map[string]any) map[string]any {
	out := map[string]any{}
	for _, e := range entries {
		if s, ok := e["success"].(map[string]any); ok {
			for k, v := range s {
				out[k] = v
			}
		}
	}
	return out
}

func TestUnauthorized(t *testing.T) {
	tb := newTestBridge(t)
	rec := tb.do("GET", "/api/nobody/lights", "")
	var entries []map[string]any
	if err := json.Unmarshal(rec.Body, &entries); err != nil {
		t.Fatal(err)
	}
	typ, addr := errorOf(t, entries)
	if typ != 1 || addr != "/config/whitelist/nobody" {
		t.Errorf("error = %d %q, want 1 /config/whitelist/nobody", typ, addr)
	}
}

func TestUnclaimedRequests(t *testing.T) {
	tb := newTestBridge(t)
	tests := []struct {
		method string
		path   string
	}{
		{"GET", "/api/" + tb.user + "/unknown"},
		{"PATCH", "/api/" + tb.user + "/lights"},
		{"GET", "/favicon.ico"},
	}
	for _, tt := range tests {
		rec := &Recorder{}
		if tb.disp.Dispatch(rec, NewRequest(tt.method, tt.path, nil)) {
			t.Errorf("Dispatch(%s %s) claimed the request", tt.method, tt.path)
		}
		if rec.Status != 404 || len(rec.Body) != 0 {
			t.Errorf("%s %s = %d %q, want bare 404", tt.method, tt.path, rec.Status, rec.Body)
		}
	}
}

func TestCreateUser(t *testing.T) {
	tb := newTestBridge(t)

	rec := tb.do("POST", "/api", `{"devicetype":"app#phone"}`)
	var entries []map[string]any
	json.Unmarshal(rec.Body, &entries)
	if typ, _ := errorOf(t, entries); typ != 101 {
		t.Errorf("error type = %d, want 101", typ)
	}

	tb.ds.SetLinkButton(true)
	rec = tb.do("POST", "/api/", `{"devicetype":"app#phone"}`)
	entries = nil
	json.Unmarshal(rec.Body, &entries)
	username, _ := successes(entries)["username"].(string)
	if username == "" || !tb.ds.IsUsernameValid(username) {
		t.Fatalf("created user %q is not whitelisted (%s)", username, rec.Body)
	}
	if got := tb.events(eventbus.ConfigUserCreated); len(got) != 1 || got[0].ID != username {
		t.Errorf("config-user-created events = %+v", got)
	}

	rec = tb.do("POST", "/api", `{"devicetype":"app#tv","generateclientkey":true}`)
	entries = nil
	json.Unmarshal(rec.Body, &entries)
	if key, _ := successes(entries)["clientkey"].(string); len(key) != 32 {
		t.Errorf("clientkey = %q, want 32 hex characters", key)
	}
}

func TestConfigVisibility(t *testing.T) {
	tb := newTestBridge(t)

	rec := tb.do("GET", "/api/nobody/config", "")
	var minimal map[string]any
	if err := json.Unmarshal(rec.Body, &minimal); err != nil {
		t.Fatal(err)
	}
	if _, ok := minimal["whitelist"]; ok {
		t.Error("minimal config exposes whitelist")
	}
	if minimal["bridgeid"] != tb.ds.BridgeID() {
		t.Errorf("bridgeid = %v, want %s", minimal["bridgeid"], tb.ds.BridgeID())
	}

	full := tb.object("/config")
	if _, ok := full["whitelist"]; !ok {
		t.Error("full config has no whitelist")
	}
	if full["ipaddress"] != "192.168.1.20" {
		t.Errorf("ipaddress = %v, want 192.168.1.20", full["ipaddress"])
	}
}

func TestModifyConfig(t *testing.T) {
	tb := newTestBridge(t)
	got := successes(tb.api("PUT", "/config", `{"name":"Attic","UTC":"2020-01-01T00:00:00"}`))
	if got["/config/name"] != "Attic" || got["/config/UTC"] == nil {
		t.Errorf("successes = %v", got)
	}
	if tb.ds.Config().Name != "Attic" {
		t.Errorf("name = %q, want Attic", tb.ds.Config().Name)
	}
	if len(tb.events(eventbus.ConfigModified)) != 1 {
		t.Error("no config-modified event")
	}
}

func TestLightState(t *testing.T) {
	tb := newTestBridge(t)
	id := tb.ds.CreateLight("node-1", "Desk", datastore.TypeExtendedColor, "")

	tests := []struct {
		name string
		body string
		want map[string]any
	}{
		{"on and bri_inc clamps high", `{"on":true,"bri_inc":100}`, map[string]any{"/lights/1/state/on": true, "/lights/1/state/bri": 254.0}},
		{"bri_inc clamps low", `{"bri_inc":-300}`, map[string]any{"/lights/1/state/bri": 1.0}},
		{"hue forces hs", `{"hue":70000}`, map[string]any{"/lights/1/state/hue": 70000.0, "/lights/1/state/colormode": "hs"}},
		{"absolute ct as given", `{"ct":100,"ct_inc":50}`, map[string]any{"/lights/1/state/ct": 100.0, "/lights/1/state/colormode": "ct"}},
	}
	for _, tt := range tests {
		tb.run(t, tt.name, func(t *testing.T) {
			got := successes(tb.api("PUT", "/lights/"+id+"/state", tt.body))
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}

	l, _ := tb.ds.Light(id)
	if !l.State.On || l.State.Bri != 1 || l.State.CT != 100 {
		t.Errorf("state = %+v", l.State)
	}
	if got := len(tb.events(eventbus.LightStateModified)); got != len(tests) {
		t.Errorf("light-state-modified events = %d, want %d", got, len(tests))
	}
}

func TestLightErrors(t *testing.T) {
	tb := newTestBridge(t)
	id := tb.ds.CreateLight("node-1", "Desk", datastore.TypeDimmable, "")

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantType int
		wantAddr string
	}{
		{"invalid json", "PUT", "/lights/" + id + "/state", "not json", 2, "/lights/1/state"},
		{"missing light", "PUT", "/lights/9/state", `{"on":true}`, 3, "/lights/9"},
		{"get missing", "GET", "/lights/9", "", 3, "/lights/9"},
		{"delete refused", "DELETE", "/lights/" + id, "", 901, "/lights/1"},
	}
	for _, tt := range tests {
		tb.run(t, tt.name, func(t *testing.T) {
			typ, addr := errorOf(t, tb.api(tt.method, tt.path, tt.body))
			if typ != tt.wantType || addr != tt.wantAddr {
				t.Errorf("error = %d %q, want %d %q", typ, addr, tt.wantType, tt.wantAddr)
			}
		})
	}
	if _, ok := tb.ds.Light(id); !ok {
		t.Error("light deleted through the API")
	}
}

func TestInternalFieldsHidden(t *testing.T) {
	tb := newTestBridge(t)
	id := tb.ds.CreateLight("node-1", "Desk", datastore.TypeDimmable, "")

	light := tb.object("/lights/" + id)
	for _, k := range []string{"_clientid", "_typ"} {
		if _, ok := light[k]; ok {
			t.Errorf("light exposes %s", k)
		}
	}
	if light["type"] != "Dimmable Light" {
		t.Errorf("type = %v", light["type"])
	}
}

func TestGroupZeroFansOut(t *testing.T) {
	tb := newTestBridge(t)
	a := tb.ds.CreateLight("node-a", "A", datastore.TypeDimmable, "")
	b := tb.ds.CreateLight("node-b", "B", datastore.TypeDimmable, "")

	entries := tb.api("PUT", "/groups/0/action", `{"on":true,"bri":100}`)
	got := successes(entries)
	if len(entries) != 2 || got["/groups/0/action/on"] != true || got["/groups/0/action/bri"] != 100.0 {
		t.Errorf("response = %v, want the first light's fields only", entries)
	}
	for _, id := range []string{a, b} {
		l, _ := tb.ds.Light(id)
		if !l.State.On || l.State.Bri != 100 {
			t.Errorf("light %s state = %+v", id, l.State)
		}
	}

	group := tb.object("/groups/0")
	state, _ := group["state"].(map[string]any)
	if state["all_on"] != true {
		t.Errorf("group 0 state = %v, want all_on", state)
	}
}

func TestGroupLifecycle(t *testing.T) {
	tb := newTestBridge(t)
	a := tb.ds.CreateLight("node-a", "A", datastore.TypeDimmable, "")

	id, _ := successes(tb.api("POST", "/groups", `{"name":"Kitchen","lights":["`+a+`"]}`))["id"].(string)
	if id == "" {
		t.Fatal("no group id")
	}
	tb.api("PUT", "/groups/"+id+"/action", `{"on":true}`)
	group := tb.object("/groups/" + id)
	if action, _ := group["action"].(map[string]any); action["on"] != true {
		t.Errorf("group action = %v, want on", group["action"])
	}

	tb.api("DELETE", "/groups/"+id, "")
	typ, _ := errorOf(t, tb.api("GET", "/groups/"+id, ""))
	if typ != 3 {
		t.Errorf("GET deleted group error = %d, want 3", typ)
	}
}

func TestSceneRecall(t *testing.T) {
	tb := newTestBridge(t)
	a := tb.ds.CreateLight("node-a", "A", datastore.TypeDimmable, "")

	id, _ := successes(tb.api("POST", "/scenes", `{"name":"Dim","lights":["`+a+`"],"lightstates":{"`+a+`":{"on":true,"bri":10}}}`))["id"].(string)
	if id == "" {
		t.Fatal("no scene id")
	}

	got := successes(tb.api("PUT", "/groups/0/action", `{"scene":"`+id+`"}`))
	if got["/groups/0/action/scene"] != id {
		t.Errorf("recall response = %v", got)
	}
	l, _ := tb.ds.Light(a)
	if !l.State.On || l.State.Bri != 10 {
		t.Errorf("light state after recall = %+v", l.State)
	}

	typ, addr := errorOf(t, tb.api("PUT", "/groups/0/action", `{"scene":"missing"}`))
	if typ != 3 || addr != "/scenes/missing" {
		t.Errorf("recall missing scene = %d %q", typ, addr)
	}
}

func TestSceneStoresCurrentState(t *testing.T) {
	tb := newTestBridge(t)
	a := tb.ds.CreateLight("node-a", "A", datastore.TypeExtendedColor, "")
	tb.api("PUT", "/lights/"+a+"/state", `{"on":true,"xy":[0.5,0.4]}`)

	id, _ := successes(tb.api("POST", "/scenes", `{"name":"Snap","lights":["`+a+`"]}`))["id"].(string)
	s, ok := tb.ds.Scene(id)
	if !ok {
		t.Fatal("scene not created")
	}
	ls := s.LightStates[a]
	if ls.On == nil || !*ls.On || ls.XY == nil || ls.CT != nil {
		t.Errorf("stored light state = %+v, want on with xy only", ls)
	}
}

func TestSensorState(t *testing.T) {
	tb := newTestBridge(t)
	id, err := tb.ds.CreateSensor("CLIPGenericFlag", "flag-1", "Flag")
	if err != nil {
		t.Fatal(err)
	}

	got := successes(tb.api("PUT", "/sensors/"+id+"/state", `{"flag":true}`))
	if got["/sensors/"+id+"/state/flag"] != true {
		t.Errorf("successes = %v", got)
	}
	evs := tb.events(eventbus.SensorStateModified)
	if len(evs) != 1 || evs[0].ID != id {
		t.Errorf("sensor-state-modified events = %+v", evs)
	}

	typ, _ := errorOf(t, tb.api("PUT", "/sensors/99/state", `{"flag":true}`))
	if typ != 3 {
		t.Errorf("missing sensor error = %d, want 3", typ)
	}
}

func TestSensorUpdateNestedKeys(t *testing.T) {
	tb := newTestBridge(t)
	id, err := tb.ds.CreateSensor("CLIPGenericStatus", "status-1", "Status")
	if err != nil {
		t.Fatal(err)
	}
	// Restored state may carry null config and state objects.
	s, _ := tb.ds.Sensor(id)
	s.Config, s.State = nil, nil
	tb.ds.UpdateSensor(id, s)

	got := successes(tb.api("PUT", "/sensors/"+id, `{"name":"Hall","config":{"on":false},"state":{"status":2}}`))
	want := map[string]any{
		"/sensors/" + id + "/name":         "Hall",
		"/sensors/" + id + "/config/on":    false,
		"/sensors/" + id + "/state/status": 2.0,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v (response %v)", k, got[k], v, got)
		}
	}
	s, _ = tb.ds.Sensor(id)
	if s.Config["on"] != false || s.State["status"] != 2.0 {
		t.Errorf("sensor config = %v, state = %v", s.Config, s.State)
	}
}

func TestRuleValidation(t *testing.T) {
	tb := newTestBridge(t)

	tests := []struct {
		name string
		body string
	}{
		{"light address", `{"conditions":[{"address":"/lights/1/state/on","operator":"eq","value":"true"}]}`},
		{"short address", `{"conditions":[{"address":"/sensors/1","operator":"dx"}]}`},
		{"bad ddx", `{"conditions":[{"address":"/sensors/1/state/flag","operator":"ddx","value":"10s"}]}`},
	}
	for _, tt := range tests {
		tb.run(t, tt.name, func(t *testing.T) {
			typ, addr := errorOf(t, tb.api("POST", "/rules", tt.body))
			if typ != 2 || addr != "/rules" {
				t.Errorf("error = %d %q, want 2 /rules", typ, addr)
			}
		})
	}
	if n := len(tb.ds.AllRules()); n != 0 {
		t.Errorf("rules after rejected creates = %d, want 0", n)
	}

	id, _ := successes(tb.api("POST", "/rules", `{"name":"r","conditions":[{"address":"/sensors/1/state/daylight","operator":"eq","value":true}],"actions":[{"address":"/groups/0/action","method":"PUT","body":{"on":true}}]}`))["id"].(string)
	rule, ok := tb.ds.Rule(id)
	if !ok {
		t.Fatal("rule not created")
	}
	if rule.Owner != tb.user || rule.Conditions[0].Value != "true" || rule.Conditions[0].SensorID != "1" {
		t.Errorf("rule = %+v", rule)
	}

	typ, _ := errorOf(t, tb.api("PUT", "/rules/"+id, `{"conditions":[{"address":"bogus","operator":"eq"}]}`))
	if typ != 2 {
		t.Errorf("invalid update error = %d, want 2", typ)
	}
	if rule, _ := tb.ds.Rule(id); rule.Conditions[0].Address != "/sensors/1/state/daylight" {
		t.Error("rejected update changed the rule")
	}
}

func TestSchedules(t *testing.T) {
	tb := newTestBridge(t)

	typ, addr := errorOf(t, tb.api("POST", "/schedules", `{"name":"x","localtime":"tomorrow"}`))
	if typ != 2 || addr != "/schedules" {
		t.Errorf("invalid time error = %d %q, want 2 /schedules", typ, addr)
	}
	if len(tb.events(eventbus.ScheduleCreated)) != 0 {
		t.Error("schedule-created emitted for an invalid time")
	}

	id, _ := successes(tb.api("POST", "/schedules", `{"name":"timer","localtime":"PT00:00:10","command":{"address":"/api/u/lights/1/state","method":"PUT","body":{"on":false}}}`))["id"].(string)
	sch, ok := tb.ds.Schedule(id)
	if !ok {
		t.Fatal("schedule not created")
	}
	if !sch.AutoDelete || sch.LocalTime != "PT00:00:10" {
		t.Errorf("schedule = %+v, want autodelete timer", sch)
	}

	id, _ = successes(tb.api("POST", "/schedules", `{"name":"weekdays","time":"W124/T06:30:00"}`))["id"].(string)
	if sch, _ := tb.ds.Schedule(id); sch.AutoDelete {
		t.Error("recurring schedule defaults to autodelete")
	}
	got := successes(tb.api("PUT", "/schedules/"+id, `{"status":"disabled"}`))
	if got["/schedules/"+id+"/status"] != "disabled" {
		t.Errorf("update response = %v", got)
	}
	if len(tb.events(eventbus.ScheduleModified)) != 1 {
		t.Error("no schedule-modified event")
	}
}

func TestDeleteResponses(t *testing.T) {
	tb := newTestBridge(t)
	id, _ := tb.ds.CreateSensor("CLIPGenericStatus", "status-1", "Status")

	entries := tb.api("DELETE", "/sensors/"+id, "")
	if len(entries) != 1 || entries[0]["success"] != "/sensors/"+id+" deleted." {
		t.Errorf("delete response = %v", entries)
	}
	typ, addr := errorOf(t, tb.api("DELETE", "/sensors/"+id, ""))
	if typ != 3 || addr != "/sensors/"+id {
		t.Errorf("second delete = %d %q, want 3", typ, addr)
	}
}

func TestDescriptionXML(t *testing.T) {
	tb := newTestBridge(t)
	rec := tb.do("GET", "/description.xml", "")
	if rec.Status != 200 || rec.ContentType != "application/xml" {
		t.Fatalf("description.xml = %d %q", rec.Status, rec.ContentType)
	}
	for _, want := range []string{"Philips hue (192.168.1.20)", "BSB002", "aabbccddeeff", "uuid:2f402f80-da50-11e1-9b23-aabbccddeeff"} {
		if !bytes.Contains(rec.Body, []byte(want)) {
			t.Errorf("description.xml missing %q", want)
		}
	}
}

func TestMarshalPublic(t *testing.T) {
	data, err := MarshalPublic(map[string]any{
		"name":  "x",
		"_hide": 1,
		"list":  []any{map[string]any{"_deep": true, "keep": 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"list":[{"keep":1}],"name":"x"}`; got != want {
		t.Errorf("MarshalPublic() = %s, want %s", got, want)
	}
}

func TestResourcelinks(t *testing.T) {
	tb := newTestBridge(t)

	id, _ := successes(tb.api("POST", "/resourcelinks", `{"name":"Wake up","classid":1,"links":["/schedules/1","/rules/2"]}`))["id"].(string)
	rl, ok := tb.ds.Resourcelink(id)
	if !ok {
		t.Fatal("resourcelink not created")
	}
	if rl.Owner != tb.user || rl.ClassID != 1 || len(rl.Links) != 2 {
		t.Errorf("resourcelink = %+v", rl)
	}

	got := successes(tb.api("PUT", "/resourcelinks/"+id, `{"description":"morning"}`))
	if got["/resourcelinks/"+id+"/description"] != "morning" {
		t.Errorf("update response = %v", got)
	}

	tb.api("DELETE", "/resourcelinks/"+id, "")
	if typ, _ := errorOf(t, tb.api("GET", "/resourcelinks/"+id, "")); typ != 3 {
		t.Errorf("GET deleted resourcelink error = %d, want 3", typ)
	}
	for _, typ := range []eventbus.EventType{eventbus.ResourcelinkCreated, eventbus.ResourcelinkModified, eventbus.ResourcelinkDeleted} {
		if len(tb.events(typ)) != 1 {
			t.Errorf("%s events = %d, want 1", typ, len(tb.events(typ)))
		}
	}
}

func TestCapabilities(t *testing.T) {
	tb := newTestBridge(t)
	tb.ds.CreateLight("node-a", "A", datastore.TypeDimmable, "")

	caps := tb.object("/capabilities")
	lights, _ := caps["lights"].(map[string]any)
	if lights["available"] != 62.0 || lights["total"] != 63.0 {
		t.Errorf("lights = %v, want 62 of 63 available", lights)
	}

	rec := tb.do("GET", "/api/"+tb.user+"/capabilities/timezones", "")
	var zones []string
	if err := json.Unmarshal(rec.Body, &zones); err != nil {
		t.Fatal(err)
	}
	if len(zones) != len(datastore.Timezones) {
		t.Errorf("timezones = %d, want %d", len(zones), len(datastore.Timezones))
	}
}
