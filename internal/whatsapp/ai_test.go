package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PRO-DEVELOPER-1/cloud-host/internal/config"
)

func TestAIRelay_RankedFallback(t *testing.T) {
	t.Run("falls through failures to first usable reply", func(t *testing.T) {
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusInternalServerError)
		}))
		defer broken.Close()
		empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result":{"prompt":""}}`))
		}))
		defer empty.Close()
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":"from the third"}`))
		}))
		defer good.Close()

		relay := NewAIRelay([]config.AIEndpoint{
			{URL: broken.URL + "/?q=", ReplyField: "result"},
			{URL: empty.URL + "/?q=", ReplyField: "result.prompt"},
			{URL: good.URL + "/?q=", ReplyField: "data"},
		}, time.Second)

		reply, err := relay.Ask(context.Background(), "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reply != "from the third" {
			t.Errorf("expected third endpoint reply, got %q", reply)
		}
	})

	t.Run("first success short-circuits later endpoints", func(t *testing.T) {
		var secondHits int32
		first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":"primary"}`))
		}))
		defer first.Close()
		second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&secondHits, 1)
			w.Write([]byte(`{"data":"secondary"}`))
		}))
		defer second.Close()

		relay := NewAIRelay([]config.AIEndpoint{
			{URL: first.URL + "/?q=", ReplyField: "data"},
			{URL: second.URL + "/?q=", ReplyField: "data"},
		}, time.Second)

		reply, err := relay.Ask(context.Background(), "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reply != "primary" {
			t.Errorf("expected primary reply, got %q", reply)
		}
		if hits := atomic.LoadInt32(&secondHits); hits != 0 {
			t.Errorf("expected second endpoint untouched, got %d hits", hits)
		}
	})

	t.Run("each endpoint gets exactly one try", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			http.Error(w, "down", http.StatusBadGateway)
		}))
		defer srv.Close()

		relay := NewAIRelay([]config.AIEndpoint{{URL: srv.URL + "/?q=", ReplyField: "data"}}, time.Second)
		if _, err := relay.Ask(context.Background(), "hello"); !errors.Is(err, ErrAIExhausted) {
			t.Fatalf("expected ErrAIExhausted, got %v", err)
		}
		if got := atomic.LoadInt32(&hits); got != 1 {
			t.Errorf("expected exactly 1 try, got %d", got)
		}
	})

	t.Run("empty chain is exhausted immediately", func(t *testing.T) {
		relay := NewAIRelay(nil, time.Second)
		if _, err := relay.Ask(context.Background(), "hello"); !errors.Is(err, ErrAIExhausted) {
			t.Fatalf("expected ErrAIExhausted, got %v", err)
		}
	})
}

func TestLookupPath(t *testing.T) {
	body := map[string]interface{}{
		"result": map[string]interface{}{
			"prompt": "nested value",
		},
		"flat": "top value",
	}

	if v, ok := lookupPath(body, "result.prompt"); !ok || v != "nested value" {
		t.Errorf("nested lookup failed: %q %v", v, ok)
	}
	if v, ok := lookupPath(body, "flat"); !ok || v != "top value" {
		t.Errorf("flat lookup failed: %q %v", v, ok)
	}
	if _, ok := lookupPath(body, "result.missing"); ok {
		t.Error("expected miss on absent leaf")
	}
	if _, ok := lookupPath(body, "flat.deeper"); ok {
		t.Error("expected miss when path descends through a string")
	}
}
