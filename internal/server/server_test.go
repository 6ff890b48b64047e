package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dokzlo13/huebridge/internal/api"
)

type fakeHandler struct {
	got       *api.Request
	committed bool
}

func (h *fakeHandler) ServeAPI(ctx context.Context, r *api.Request) (*api.Recorder, func(), error) {
	h.got = r
	rec := &api.Recorder{Status: 200, ContentType: "application/json", Body: []byte(`[{"success":{"id":"1"}}]`)}
	return rec, func() { h.committed = true }, nil
}

func TestServeHTTP(t *testing.T) {
	h := &fakeHandler{}
	ts := httptest.NewServer(New("127.0.0.1:0", h, Options{}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/user/lights?x=1", "application/json", strings.NewReader(`{"name":"a"}`))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if string(body) != `[{"success":{"id":"1"}}]` {
		t.Errorf("body = %s", body)
	}
	if h.got.Method != "post" || h.got.Path != "/api/user/lights" {
		t.Errorf("request = %s %s, want post /api/user/lights", h.got.Method, h.got.Path)
	}
	if string(h.got.Body) != `{"name":"a"}` {
		t.Errorf("request body = %s", h.got.Body)
	}
	if !h.committed {
		t.Error("commit not called")
	}
}

func TestUnsupportedMethod(t *testing.T) {
	h := &fakeHandler{}
	ts := httptest.NewServer(New("127.0.0.1:0", h, Options{}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/api/user/lights", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if h.got != nil {
		t.Error("PATCH reached the handler")
	}
}

func TestThrottled(t *testing.T) {
	h := &fakeHandler{}
	ts := httptest.NewServer(New("127.0.0.1:0", h, Options{RateLimit: 0.001, Burst: 1}))
	defer ts.Close()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/api/user/lights")
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
		if i == 1 && !strings.Contains(string(body), `"type":901`) {
			t.Errorf("throttled body = %s", body)
		}
	}
	if codes[0] != 200 || codes[1] != http.StatusServiceUnavailable {
		t.Errorf("status codes = %v, want [200 503]", codes)
	}
}

func TestListenReportsPort(t *testing.T) {
	s := New("127.0.0.1:0", &fakeHandler{}, Options{})
	port, err := s.Listen()
	if err != nil {
		t.Fatal(err)
	}
	defer s.listener.Close()
	if port == 0 {
		t.Error("Listen() returned port 0")
	}
}
