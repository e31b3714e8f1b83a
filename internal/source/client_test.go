package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleBody = `{"markets": [
	{"id": "m-1", "question": "Will X happen?", "category": "crypto",
	 "volume": 100, "liquidity": 50,
	 "expiry": "2026-12-31T12:00:00Z", "created_at": "2026-08-01T09:30:00Z"},
	{"id": "m-2", "question": "Broken record"}
]}`

func testClient(url string) *Client {
	return NewClient(url, 2*time.Second, 50, ClientConfig{
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
		RetryDelayMax:  5 * time.Millisecond,
	})
}

func TestFetchRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("sort") != "newest" || q.Get("status") != "open" || q.Get("limit") != "50" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	markets, err := testClient(srv.URL).FetchRecent(context.Background())
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	// m-2 lacks timestamps and is dropped by the parser.
	if len(markets) != 1 {
		t.Fatalf("got %d markets, want 1", len(markets))
	}
	if markets[0].ID != "m-1" {
		t.Errorf("got market %q, want m-1", markets[0].ID)
	}
}

func TestFetchRecent_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).FetchRecent(context.Background()); err == nil {
		t.Error("expected error for non-success status")
	}
}

func TestFetchRecent_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	markets, err := testClient(srv.URL).FetchRecent(context.Background())
	if err != nil {
		t.Fatalf("FetchRecent after retries: %v", err)
	}
	if len(markets) != 1 {
		t.Errorf("got %d markets, want 1", len(markets))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("got %d requests, want 3", got)
	}
}

func TestFetchRecent_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"markets": "nope"`))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).FetchRecent(context.Background()); err == nil {
		t.Error("expected error for malformed body")
	}
}
