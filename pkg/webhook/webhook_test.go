package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("default config should be enabled")
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay != 5*time.Second {
		t.Errorf("expected RetryDelay 5s, got %v", cfg.RetryDelay)
	}
	if cfg.AsyncQueueSize != 100 {
		t.Errorf("expected AsyncQueueSize 100, got %d", cfg.AsyncQueueSize)
	}
}

func TestClientSendSync(t *testing.T) {
	var receivedEvent map[string]any
	var deliveryHeader, eventHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&receivedEvent)
		deliveryHeader = r.Header.Get("X-Speckit-Delivery")
		eventHeader = r.Header.Get("X-Speckit-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := &Config{
		Enabled:    true,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
		Hooks: []HookConfig{
			{URL: server.URL, Events: []EventType{EventPolicyViolation}, Enabled: true},
		},
	}

	client := NewClient(cfg)
	defer client.Close()

	err := client.Send(Event{
		Event:         EventPolicyViolation,
		Template:      "constitution",
		Policy:        "finance-lockdown",
		Notifications: map[string]any{"slack": "#governance"},
	}, false)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if receivedEvent == nil {
		t.Fatal("expected event to be received")
	}
	if receivedEvent["event"] != string(EventPolicyViolation) {
		t.Errorf("expected event %s, got %v", EventPolicyViolation, receivedEvent["event"])
	}
	notif, _ := receivedEvent["notifications"].(map[string]any)
	if notif["slack"] != "#governance" {
		t.Errorf("expected notifications passed through, got %v", receivedEvent["notifications"])
	}
	if deliveryHeader == "" || deliveryHeader != receivedEvent["delivery_id"] {
		t.Errorf("expected delivery id header to match payload, got %q vs %v", deliveryHeader, receivedEvent["delivery_id"])
	}
	if eventHeader != string(EventPolicyViolation) {
		t.Errorf("expected event header, got %q", eventHeader)
	}
}

func TestClientSendWithSignature(t *testing.T) {
	var receivedSignature string
	var body []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		receivedSignature = r.Header.Get("X-Speckit-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := "test-secret-key"
	cfg := &Config{
		Enabled:    true,
		MaxRetries: 1,
		Hooks: []HookConfig{
			{URL: server.URL, Secret: secret, Events: []EventType{EventTemplateOverride}, Enabled: true},
		},
	}

	client := NewClient(cfg)
	defer client.Close()

	if err := client.Send(Event{Event: EventTemplateOverride, Template: "plan"}, false); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if receivedSignature != want {
		t.Errorf("signature mismatch: got %s want %s", receivedSignature, want)
	}
}

func TestClientSendAsync(t *testing.T) {
	calls := make(chan bool, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := &Config{
		Enabled:        true,
		MaxRetries:     1,
		AsyncQueueSize: 10,
		Hooks: []HookConfig{
			{URL: server.URL, Events: []EventType{EventApprovalRequired}, Enabled: true},
		},
	}

	client := NewClient(cfg)
	defer client.Close()

	if err := client.Send(Event{Event: EventApprovalRequired}, true); err != nil {
		t.Fatalf("Send async failed: %v", err)
	}

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Error("async webhook not received within timeout")
	}
}

func TestClientCloseDrainsQueue(t *testing.T) {
	var count int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&Config{
		Enabled:        true,
		AsyncQueueSize: 10,
		Hooks:          []HookConfig{{URL: server.URL, Events: []EventType{"*"}, Enabled: true}},
	})
	for i := 0; i < 3; i++ {
		client.Send(Event{Event: EventTemplateDownload}, true)
	}
	client.Close()

	if got := atomic.LoadInt32(&count); got != 3 {
		t.Errorf("expected 3 deliveries after Close, got %d", got)
	}
}

func TestClientRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&Config{
		Enabled:    true,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		Hooks:      []HookConfig{{URL: server.URL, Events: []EventType{EventPolicyViolation}, Enabled: true}},
	})
	defer client.Close()

	if err := client.Send(Event{Event: EventPolicyViolation}, false); err != nil {
		t.Fatalf("Send with retry failed: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClientRetryExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(&Config{
		Enabled:    true,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Hooks:      []HookConfig{{URL: server.URL, Events: []EventType{EventPolicyViolation}, Enabled: true}},
	})
	defer client.Close()

	if err := client.Send(Event{Event: EventPolicyViolation}, false); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}

func TestClientDisabled(t *testing.T) {
	var called int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
	}))
	defer server.Close()

	client := NewClient(&Config{
		Enabled: false,
		Hooks:   []HookConfig{{URL: server.URL, Events: []EventType{"*"}, Enabled: true}},
	})
	defer client.Close()

	if err := client.Send(Event{Event: EventPolicyViolation}, false); err != nil {
		t.Fatalf("Send on disabled client failed: %v", err)
	}
	if atomic.LoadInt32(&called) != 0 {
		t.Error("disabled client must not deliver")
	}
}

func TestClientEventFiltering(t *testing.T) {
	var called int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&Config{
		Enabled: true,
		Hooks: []HookConfig{
			{URL: server.URL, Events: []EventType{EventTemplateOverride}, Enabled: true},
			{URL: server.URL, Events: []EventType{"*"}, Enabled: false},
		},
	})
	defer client.Close()

	client.Send(Event{Event: EventTemplateDownload}, false)
	if atomic.LoadInt32(&called) != 0 {
		t.Error("non-matching event must not be delivered")
	}
	client.Send(Event{Event: EventTemplateOverride}, false)
	if atomic.LoadInt32(&called) != 1 {
		t.Errorf("expected exactly one delivery, got %d", called)
	}
}
