package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trades-ai/internal/kernel"
)

func TestRESTFeedPollsAndDedupesByTimestamp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"symbol":"AAPL","timestamp":"2024-01-01T00:00:00Z","open":10,"high":11,"low":9,"close":10.5,"volume":1000}]`))
	}))
	defer srv.Close()

	f := NewREST(RESTOptions{URL: srv.URL, Symbol: "AAPL", PollInterval: time.Millisecond}, nil)
	ctx := context.Background()
	f.OnStart(ctx)

	bar, status, _, err := f.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if status != kernel.FeedBar || bar.Symbol != "AAPL" {
		t.Fatalf("expected a fresh bar, got status=%v bar=%+v", status, bar)
	}

	_, status, _, err = f.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if status != kernel.FeedHeartbeat {
		t.Fatalf("expected heartbeat once the same bar repeats, got %v", status)
	}
}

func TestRESTFeedSurfacesGapAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewREST(RESTOptions{URL: srv.URL, Symbol: "AAPL", PollInterval: time.Millisecond, MaxBackoff: time.Millisecond}, nil)
	ctx := context.Background()
	f.OnStart(ctx)

	var alert *kernel.FeedAlertPayload
	for i := 0; i < 3; i++ {
		_, _, a, err := f.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if a != nil {
			alert = a
			break
		}
	}
	if alert == nil || alert.AlertType != "reconnect" {
		t.Fatalf("expected a reconnect alert after repeated failures, got %+v", alert)
	}
}
