package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/huebridge/internal/config"
	"github.com/dokzlo13/huebridge/internal/ledger"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(`
database:
  path: ` + filepath.Join(dir, "state.sqlite") + `
storage:
  bolt_path: ` + filepath.Join(dir, "state.bolt") + `
bridges:
  - mac: "aa:bb:cc:dd:ee:01"
    bind: 127.0.0.1
    name: First
  - mac: "aa:bb:cc:dd:ee:02"
    bind: 127.0.0.1
` + extra))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for i := range cfg.Bridges {
		cfg.Bridges[i].Port = 0
	}
	return cfg
}

func TestBridgeConfig(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.MDNS.Enabled = true

	first := BridgeConfig(cfg, 0)
	if first.Name != "First" || first.Network.MAC != "aa:bb:cc:dd:ee:01" || first.BindAddress != "127.0.0.1" {
		t.Errorf("BridgeConfig(0) = %+v", first)
	}
	if first.MDNSHostname != "huebridge" {
		t.Errorf("BridgeConfig(0).MDNSHostname = %q, want huebridge", first.MDNSHostname)
	}
	if got := BridgeConfig(cfg, 1).MDNSHostname; got != "" {
		t.Errorf("BridgeConfig(1).MDNSHostname = %q, want empty", got)
	}
	if first.RuleInterval != cfg.Rules.Interval.Duration() {
		t.Errorf("RuleInterval = %v, want %v", first.RuleInterval, cfg.Rules.Interval.Duration())
	}
}

func TestOpenStorage(t *testing.T) {
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, "")
			cfg.Storage.Driver = driver

			database, manager, err := OpenStorage(cfg)
			if err != nil {
				t.Fatalf("OpenStorage() error = %v", err)
			}
			defer database.Close()
			defer manager.Close()

			if manager.Driver() != driver {
				t.Errorf("Driver() = %q, want %q", manager.Driver(), driver)
			}
			bucket, err := manager.Bucket("B1")
			if err != nil {
				t.Fatal(err)
			}
			if err := bucket.Store("k", []byte("v")); err != nil {
				t.Fatal(err)
			}
			if got, err := bucket.Get("k"); err != nil || string(got) != "v" {
				t.Errorf("Get() = %q, %v, want v", got, err)
			}
		})
	}
}

func readyStatus(t *testing.T, h *HealthService) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	return rec.Code, body.Status
}

func TestServicesLifecycle(t *testing.T) {
	cfg := testConfig(t, "history:\n  enabled: true\n")
	s, err := NewServices(cfg)
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	if len(s.Bridges) != 2 || s.Ledger == nil {
		t.Fatalf("services = %+v", s)
	}

	if code, status := readyStatus(t, s.Health); code != http.StatusServiceUnavailable || status != "not ready" {
		t.Errorf("/ready before start = %d %q", code, status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for _, b := range s.Bridges {
		if b.HTTPPort() == 0 {
			t.Errorf("bridge %s has no HTTP port", b.BridgeID())
		}
	}
	if code, status := readyStatus(t, s.Health); code != http.StatusOK || status != "ready" {
		t.Errorf("/ready after start = %d %q", code, status)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if code, _ := readyStatus(t, s.Health); code != http.StatusServiceUnavailable {
		t.Errorf("/ready after stop = %d, want 503", code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHealthService(testConfig(t, ""), nil)
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"status":"healthy"}` {
		t.Errorf("/health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHistoryCleanup(t *testing.T) {
	cfg := testConfig(t, "")
	database, manager, err := OpenStorage(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	defer manager.Close()

	l := ledger.New(database.DB)
	if err := l.Append("B1", ledger.KindRule, "1", "PUT", "/api/u/lights/1/state", []byte(`{"on":true}`)); err != nil {
		t.Fatal(err)
	}

	h := NewHistoryService(cfg, l)
	h.cleanup(h.retention())
	if got, _ := l.Recent("", 10); len(got) != 1 {
		t.Fatalf("entries after retention cleanup = %d, want 1", len(got))
	}
	h.cleanup(-time.Hour)
	if got, _ := l.Recent("", 10); len(got) != 0 {
		t.Errorf("entries after full cleanup = %d, want 0", len(got))
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t, ""))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !(a.services.Bridges[0].Running() && a.services.Bridges[1].Running()) {
		if time.Now().After(deadline) {
			t.Fatal("bridges did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	for i, b := range a.services.Bridges {
		if b.Running() {
			t.Errorf("bridge %d still running after Run", i)
		}
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
