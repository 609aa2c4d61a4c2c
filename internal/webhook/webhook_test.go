package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/bili-companion/internal/core"
)

func TestTriggerPostsToConfiguredURL(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		hits.Add(1)
	}))
	defer srv.Close()

	tr := New(map[string]Endpoint{
		core.TierCaptain: {Enabled: true, URL: srv.URL},
	}, Options{})

	if !tr.Trigger(context.Background(), core.TierCaptain) {
		t.Fatal("trigger reported failure")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestTriggerSkipsDisabledAndUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("disabled endpoint was called")
	}))
	defer srv.Close()

	tr := New(map[string]Endpoint{
		core.TierAdmiral:  {Enabled: false, URL: srv.URL},
		core.TierGovernor: {Enabled: true, URL: "  "},
	}, Options{})

	if tr.Trigger(context.Background(), core.TierAdmiral) {
		t.Fatal("disabled tier triggered")
	}
	if tr.Trigger(context.Background(), core.TierGovernor) {
		t.Fatal("blank url triggered")
	}
	if tr.Trigger(context.Background(), "nosuch") {
		t.Fatal("unknown tag triggered")
	}
}

func TestTriggerReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := New(map[string]Endpoint{
		core.TierCaptain: {Enabled: true, URL: srv.URL},
	}, Options{})
	if tr.Trigger(context.Background(), core.TierCaptain) {
		t.Fatal("5xx response reported success")
	}
}

func TestTriggerTimeoutDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tr := New(map[string]Endpoint{
		core.TierCaptain: {Enabled: true, URL: srv.URL},
	}, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	if tr.Trigger(context.Background(), core.TierCaptain) {
		t.Fatal("timed-out call reported success")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("trigger blocked for %v", elapsed)
	}
}

func TestTriggerRateLimitSkips(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tr := New(map[string]Endpoint{
		core.TierCaptain: {Enabled: true, URL: srv.URL},
	}, Options{PerMinute: 2})

	ctx := context.Background()
	tr.Trigger(ctx, core.TierCaptain)
	tr.Trigger(ctx, core.TierCaptain)
	if tr.Trigger(ctx, core.TierCaptain) {
		t.Fatal("third trigger inside the window should be skipped")
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
}

func TestEnabledReflectsConfiguration(t *testing.T) {
	tr := New(map[string]Endpoint{
		core.TierCaptain:  {Enabled: true, URL: "http://example.invalid/hook"},
		core.TierAdmiral:  {Enabled: false, URL: "http://example.invalid/hook"},
		core.TierGovernor: {Enabled: true, URL: "  "},
	}, Options{})

	if !tr.Enabled(core.TierCaptain) {
		t.Fatal("captain endpoint should be enabled")
	}
	if tr.Enabled(core.TierAdmiral) {
		t.Fatal("disabled endpoint reported enabled")
	}
	if tr.Enabled(core.TierGovernor) {
		t.Fatal("endpoint without url reported enabled")
	}
	if tr.Enabled("unknown") {
		t.Fatal("unknown tag reported enabled")
	}
}
