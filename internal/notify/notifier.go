// Package notify sends operator alerts to chat channels. Alerts are filtered
// by event name and throttled so a failing pair cannot flood the channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Config controls filtering and throttling.
type Config struct {
	// Events lists the event names to forward. Empty forwards everything.
	Events []string
	// Throttle is the minimum gap between two alerts for the same event.
	Throttle time.Duration
	// SendTimeout bounds one background dispatch.
	SendTimeout time.Duration
}

// Notifier fans alerts out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	cfg     Config
	limiter domain.RateLimiter
	logger  *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	wg   sync.WaitGroup
}

// NewNotifier creates a Notifier. limiter may be nil, in which case throttling
// is per process.
func NewNotifier(senders []Sender, cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "notifier")),
		last:    make(map[string]time.Time),
	}
}

// Notify queues an alert for event. It never blocks the caller on delivery.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if len(n.senders) == 0 || !n.wants(event) || !n.allow(ctx, event) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.SendTimeout)
		defer cancel()
		if err := n.Send(sendCtx, title, message); err != nil {
			n.logger.WarnContext(sendCtx, "alert not delivered", slog.String("event", event), slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until queued alerts are delivered.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) wants(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

func (n *Notifier) allow(ctx context.Context, event string) bool {
	if n.cfg.Throttle <= 0 {
		return true
	}
	if n.limiter != nil {
		ok, err := n.limiter.Allow(ctx, "alert:"+event, 1, n.cfg.Throttle)
		if err == nil {
			return ok
		}
		n.logger.DebugContext(ctx, "alert limiter unavailable", slog.String("error", err.Error()))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	if at, ok := n.last[event]; ok && now.Sub(at) < n.cfg.Throttle {
		return false
	}
	n.last[event] = now
	return true
}

// Send delivers synchronously to every sender. One failing sender does not
// stop the others.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent", slog.String("sender", s.Name()), slog.String("title", title))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
