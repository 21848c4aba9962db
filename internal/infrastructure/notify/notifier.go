package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
)

// Config controls webhook delivery
type Config struct {
	WebhookURL string
	RetryMax   int
	Timeout    time.Duration
	Queue      int
	// Source identifies this host in notices
	Source string
}

// Notice is the JSON body posted to the webhook
type Notice struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source,omitempty"`
	Kind      string                 `json:"kind"`
	Level     string                 `json:"level"`
	SessionID string                 `json:"session_id,omitempty"`
	AppName   string                 `json:"app_name,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Stats counts notices by outcome
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Notifier forwards host events to an operator webhook. Notify only queues;
// Run posts queued notices one at a time with retries.
type Notifier struct {
	cfg    Config
	client *retryablehttp.Client
	policy *bluemonday.Policy
	logger *zap.Logger
	queue  chan events.Event

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a notifier. It does nothing until Run is called.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.Queue <= 0 {
		cfg.Queue = 128
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	return &Notifier{
		cfg:    cfg,
		client: client,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
		queue:  make(chan events.Event, cfg.Queue),
	}
}

// Notify queues an event without blocking. It is meant to be passed to
// events.Bus.Listen.
func (n *Notifier) Notify(e events.Event) {
	select {
	case n.queue <- e:
	default:
		n.dropped.Add(1)
		n.logger.Debug("Notice dropped, queue full", zap.String("kind", string(e.Kind)))
	}
}

// Run posts queued notices until ctx ends
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.queue:
			if err := n.post(ctx, e); err != nil {
				n.failed.Add(1)
				n.logger.Warn("Operator notice failed",
					zap.String("kind", string(e.Kind)),
					zap.Error(err))
				continue
			}
			n.sent.Add(1)
		}
	}
}

// Stats returns delivery counters
func (n *Notifier) Stats() Stats {
	return Stats{
		Sent:    n.sent.Load(),
		Failed:  n.failed.Load(),
		Dropped: n.dropped.Load(),
	}
}

// Build turns an event into a notice. App-supplied text is stripped of
// markup before it leaves the host.
func (n *Notifier) Build(e events.Event) Notice {
	notice := Notice{
		ID:        e.ID.String(),
		Source:    n.cfg.Source,
		Kind:      string(e.Kind),
		Level:     string(e.Level),
		SessionID: e.SessionID.String(),
		AppName:   n.policy.Sanitize(e.AppName),
		Message:   n.policy.Sanitize(e.Message),
		Timestamp: e.Timestamp,
	}
	if len(e.Data) > 0 {
		notice.Data = make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			if s, ok := v.(string); ok {
				v = n.policy.Sanitize(s)
			}
			notice.Data[k] = v
		}
	}
	return notice
}

func (n *Notifier) post(ctx context.Context, e events.Event) error {
	body, err := sonic.Marshal(n.Build(e))
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "apphost-notify/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Close releases idle webhook connections
func (n *Notifier) Close() {
	n.client.HTTPClient.CloseIdleConnections()
}
