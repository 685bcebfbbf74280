package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, time.Minute, time.Second)
	if !m.CheckConnectivity(context.Background()) {
		t.Error("expected online against healthy server")
	}
	if !m.IsOnline() {
		t.Error("IsOnline should reflect last probe")
	}

	srv.Close()
	if m.CheckConnectivity(context.Background()) {
		t.Error("expected offline against closed server")
	}
}

func TestOnlineStreamPublishesTransitionsOnly(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, time.Minute, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	online := m.Online(ctx)

	m.CheckConnectivity(ctx)
	if v := <-online; !v {
		t.Fatal("expected online=true")
	}

	// A repeat probe with no transition publishes nothing new.
	m.CheckConnectivity(ctx)
	select {
	case v := <-online:
		t.Fatalf("unexpected emission %v for unchanged state", v)
	case <-time.After(50 * time.Millisecond):
	}

	healthy.Store(false)
	m.CheckConnectivity(ctx)
	if v := <-online; v {
		t.Fatal("expected online=false after server degraded")
	}
}

func TestSyncTriggerFiresOnFirstOnlineProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, time.Minute, time.Second)
	var fired atomic.Int32
	m.OnOnline(func(ctx context.Context) { fired.Add(1) })

	// Ops queued before the first probe settles must replay without waiting
	// for a later offline window.
	m.CheckConnectivity(context.Background())
	m.CheckConnectivity(context.Background())

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fired.Load(); got != 1 {
		t.Errorf("trigger fired %d times, want 1", got)
	}
}

func TestSyncTriggerFiresOnOfflineToOnlineEdge(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, time.Minute, time.Second)
	var fired atomic.Int32
	m.OnOnline(func(ctx context.Context) { fired.Add(1) })

	m.CheckConnectivity(context.Background()) // offline
	healthy.Store(true)
	m.CheckConnectivity(context.Background()) // edge: fires
	m.CheckConnectivity(context.Background()) // still online: no fire

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fired.Load(); got != 1 {
		t.Errorf("trigger fired %d times, want 1", got)
	}
}
