// Package webhook provides HTTP webhook notification support for governance events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/logging"
)

// EventType represents the type of governance event that can trigger webhooks.
type EventType string

const (
	EventTemplateDownload EventType = "template.download"
	EventTemplateOverride EventType = "template.override"
	EventPolicyViolation  EventType = "policy.violation"
	EventApprovalRequired EventType = "override.approval_required"
)

// Event represents a governance event payload sent to webhooks.
type Event struct {
	Event         EventType      `json:"event"`
	DeliveryID    string         `json:"delivery_id"`
	Timestamp     string         `json:"timestamp"`
	Template      string         `json:"template,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	Team          string         `json:"team,omitempty"`
	Policy        string         `json:"policy,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	FromSource    string         `json:"from_source,omitempty"`
	ToSource      string         `json:"to_source,omitempty"`
	ApproverRoles []string       `json:"approver_roles,omitempty"`
	Notifications map[string]any `json:"notifications,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// HookConfig represents a single webhook configuration.
type HookConfig struct {
	URL     string        `json:"url" yaml:"url" validate:"required,url"`
	Secret  string        `json:"secret,omitempty" yaml:"secret,omitempty"`
	Events  []EventType   `json:"events" yaml:"events"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Enabled bool          `json:"enabled" yaml:"enabled"`
}

// Config represents the webhook configuration.
type Config struct {
	Hooks          []HookConfig  `json:"hooks" yaml:"hooks" validate:"dive"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries" validate:"gte=0"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay"`
	AsyncQueueSize int           `json:"async_queue_size" yaml:"async_queue_size" validate:"gte=0"`
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		AsyncQueueSize: 100,
	}
}

// Client handles sending webhook notifications.
type Client struct {
	config *Config
	http   *http.Client
	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	mu     sync.RWMutex
	log    *logging.Logger
}

type job struct {
	event Event
	hook  HookConfig
}

// NewClient creates a new webhook client.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		queue:  make(chan *job, cfg.AsyncQueueSize),
		ctx:    ctx,
		cancel: cancel,
		log:    logging.WithFields(map[string]any{"component": "webhook"}),
	}

	if cfg.Enabled {
		c.start()
	}

	return c
}

func (c *Client) start() {
	c.once.Do(func() {
		c.wg.Add(1)
		go c.worker()
	})
}

// worker processes webhook notifications in the background.
func (c *Client) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			// Drain remaining jobs
			for len(c.queue) > 0 {
				c.send(<-c.queue)
			}
			return
		case job := <-c.queue:
			c.send(job)
		}
	}
}

// Send sends an event to all matching webhooks.
// If async is true, the event is queued for background sending.
func (c *Client) Send(event Event, async bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.config.Enabled {
		return nil
	}

	var hooks []HookConfig
	for _, hook := range c.config.Hooks {
		if hook.Enabled && matchesEvent(hook, event.Event) {
			hooks = append(hooks, hook)
		}
	}
	if len(hooks) == 0 {
		return nil
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if event.DeliveryID == "" {
		event.DeliveryID = uuid.NewString()
	}

	if async {
		for _, hook := range hooks {
			select {
			case c.queue <- &job{event: event, hook: hook}:
			default:
				c.log.Warn("webhook queue full, dropping event", map[string]any{"event": string(event.Event)})
			}
		}
		return nil
	}

	var lastErr error
	for _, hook := range hooks {
		if err := c.sendSync(&job{event: event, hook: hook}); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) send(job *job) {
	if err := c.sendSync(job); err != nil {
		c.log.ErrorErr("webhook delivery failed", err, map[string]any{"url": job.hook.URL, "event": string(job.event.Event)})
	}
}

// sendSync sends a webhook synchronously with retries.
func (c *Client) sendSync(job *job) error {
	payload, err := json.Marshal(job.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		lastErr = c.post(job, payload)
		if lastErr == nil {
			return nil
		}
	}

	return lastErr
}

func (c *Client) post(job *job, payload []byte) error {
	// Not derived from c.ctx: queued events are still delivered while Close drains.
	ctx := context.Background()
	if job.hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.hook.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.hook.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Speckit-Webhook/1.0")
	req.Header.Set("X-Speckit-Event", string(job.event.Event))
	req.Header.Set("X-Speckit-Delivery", job.event.DeliveryID)
	if job.hook.Secret != "" {
		req.Header.Set("X-Speckit-Signature", sign(payload, job.hook.Secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
}

// sign creates an HMAC-SHA256 signature for the payload.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matchesEvent(hook HookConfig, event EventType) bool {
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// Close gracefully shuts down the webhook client, draining queued events.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	c.cancel()
	c.wg.Wait()
	return nil
}
