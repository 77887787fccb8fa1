// Package alerts delivers performance-target breaches to a chat webhook.
// Delivery is best effort: alerts are advisory and must never block or slow
// the analysis path.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/elitetradingcoach/chart-analysis/internal/config"
	"github.com/elitetradingcoach/chart-analysis/internal/observ"
	"github.com/elitetradingcoach/chart-analysis/internal/usage"
)

type field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type attachment struct {
	Color  string  `json:"color"`
	Fields []field `json:"fields"`
}

// message is the Slack-compatible incoming-webhook payload.
type message struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type queued struct {
	alert     usage.Alert
	attempts  int
	nextRetry time.Time
}

// Notifier fans performance alerts out to a webhook through a bounded queue.
// Duplicate alert names are suppressed inside the dedupe window, and a global
// per-minute rate limit caps webhook traffic. The queue drops when full.
type Notifier struct {
	cfg        config.Alerts
	httpClient *http.Client
	queue      chan queued

	mu       sync.Mutex
	lastSent map[string]time.Time
	recent   []time.Time
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNotifier starts the delivery worker. Returns a no-op notifier when the
// config disables alerting.
func NewNotifier(cfg config.Alerts) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan queued, 100),
		lastSent:   make(map[string]time.Time),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.Enabled {
		go n.worker()
	}
	return n
}

// Notify enqueues one alert for delivery. Never blocks; a full queue drops
// the alert and counts it.
func (n *Notifier) Notify(a usage.Alert) {
	if !n.cfg.Enabled {
		return
	}
	if !n.admit(a.Name) {
		return
	}

	select {
	case n.queue <- queued{alert: a, nextRetry: n.now()}:
	default:
		observ.IncCounter("alert_queue_dropped_total", nil)
	}
}

// NotifyAll enqueues a batch, typically the output of one target check.
func (n *Notifier) NotifyAll(alerts []usage.Alert) {
	for _, a := range alerts {
		n.Notify(a)
	}
}

// admit applies dedupe and the global rate limit under one lock.
func (n *Notifier) admit(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	window := time.Duration(n.cfg.DedupeWindowMs) * time.Millisecond
	if last, ok := n.lastSent[name]; ok && now.Sub(last) < window {
		observ.IncCounter("alert_deduped_total", map[string]string{"alert": name})
		return false
	}

	cutoff := now.Add(-time.Minute)
	kept := n.recent[:0]
	for _, t := range n.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	n.recent = kept
	if len(n.recent) >= n.cfg.RateLimitPerMin {
		observ.IncCounter("alert_rate_limited_total", nil)
		return false
	}

	n.lastSent[name] = now
	n.recent = append(n.recent, now)
	return true
}

func (n *Notifier) worker() {
	for {
		select {
		case <-n.ctx.Done():
			return
		case q := <-n.queue:
			if wait := q.nextRetry.Sub(n.now()); wait > 0 {
				select {
				case <-time.After(wait):
				case <-n.ctx.Done():
					return
				}
			}

			if err := n.post(q.alert); err == nil {
				observ.IncCounter("alerts_sent_total", map[string]string{"alert": q.alert.Name})
				continue
			} else {
				observ.Log("alert_delivery_failed", map[string]any{
					"alert":   q.alert.Name,
					"attempt": q.attempts + 1,
					"error":   err.Error(),
				})
			}

			q.attempts++
			if q.attempts >= 3 {
				observ.IncCounter("alert_delivery_errors_total", map[string]string{"alert": q.alert.Name})
				continue
			}
			backoff := time.Duration(1<<q.attempts) * time.Second
			q.nextRetry = n.now().Add(backoff + time.Duration(rand.Int63n(int64(backoff)/10+1)))
			select {
			case n.queue <- q:
			default:
				observ.IncCounter("alert_queue_dropped_total", nil)
			}
		}
	}
}

func (n *Notifier) post(a usage.Alert) error {
	payload, err := json.Marshal(n.format(a))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) format(a usage.Alert) message {
	color := "warning"
	if a.Name == "success_rate_below_target" {
		color = "danger"
	}
	return message{
		Channel: n.cfg.Channel,
		Text:    fmt.Sprintf("Chart analysis alert: %s", a.Message),
		Attachments: []attachment{{
			Color: color,
			Fields: []field{
				{Title: "Alert", Value: a.Name, Short: true},
				{Title: "Value", Value: fmt.Sprintf("%.4f", a.Value), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%.4f", a.Threshold), Short: true},
				{Title: "Time", Value: a.Timestamp.Format("15:04:05 MST"), Short: true},
			},
		}},
	}
}

// Watch polls the tracker on the configured interval and forwards breaches
// until the context is cancelled. Intended to run as a goroutine in main.
func (n *Notifier) Watch(ctx context.Context, tracker *usage.Tracker) {
	if !n.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(time.Duration(n.cfg.CheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.NotifyAll(tracker.CheckPerformanceTargets())
		}
	}
}

// Close stops the delivery worker. Queued alerts are discarded.
func (n *Notifier) Close() { n.cancel() }

// SetClock overrides the time source for dedupe and rate decisions (tests).
func (n *Notifier) SetClock(now func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.now = now
}
