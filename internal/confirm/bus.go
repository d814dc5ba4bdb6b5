package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"nse-trading-bot/internal/logging"
)

// Option is one answer a confirmation request offers
type Option struct {
	Action  string `json:"action"`
	Label   string `json:"label"`
	Default bool   `json:"default,omitempty"`
}

// Request is a pending question awaiting a human decision
type Request struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Context   map[string]interface{} `json:"context"`
	Options   []Option               `json:"options"`
	Default   string                 `json:"default"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`

	reply chan string
}

// Channel delivers a confirmation request to a human surface. Ask must not
// block; replies come back through Bus.Reply.
type Channel interface {
	Ask(req *Request)
}

// Config holds bus limits
type Config struct {
	DefaultTimeout time.Duration // Answer wait before falling back to default
	QueueSize      int           // Max concurrently pending requests
	RateInterval   time.Duration // Min spacing between dispatches
}

// Bus routes confirmation questions to channels and waits for the first
// answer. Requests beyond the queue size or inside the rate-limit window
// resolve to their default immediately.
type Bus struct {
	cfg      Config
	log      *logging.Logger
	channels []Channel

	mu           sync.Mutex
	pending      map[string]*Request
	lastDispatch time.Time
	dropped      int64
	answered     int64
	timedOut     int64
}

// NewBus creates a confirmation bus
func NewBus(cfg Config, log *logging.Logger) *Bus {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Bus{
		cfg:     cfg,
		log:     log.WithComponent("confirm"),
		pending: make(map[string]*Request),
	}
}

// AddChannel registers a delivery channel
func (b *Bus) AddChannel(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

// defaultAction returns the option marked default, else the explicit default
func defaultAction(options []Option, fallback string) string {
	for _, o := range options {
		if o.Default {
			return o.Action
		}
	}
	return fallback
}

// Ask dispatches a question and blocks until the first reply, the timeout,
// or ctx cancellation. Timeout zero uses the configured default. The return
// is always one of the offered actions.
func (b *Bus) Ask(ctx context.Context, kind string, context_ map[string]interface{},
	options []Option, timeout time.Duration, fallback string) string {

	def := defaultAction(options, fallback)
	if timeout <= 0 {
		timeout = b.cfg.DefaultTimeout
	}

	now := time.Now()
	req := &Request{
		ID:        uuid.New().String(),
		Kind:      kind,
		Context:   context_,
		Options:   options,
		Default:   def,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
		reply:     make(chan string, 1),
	}

	b.mu.Lock()
	if len(b.pending) >= b.cfg.QueueSize {
		b.dropped++
		b.mu.Unlock()
		b.log.Warn("confirmation queue full, returning default", "kind", kind, "default", def)
		return def
	}
	if b.cfg.RateInterval > 0 && now.Sub(b.lastDispatch) < b.cfg.RateInterval {
		b.dropped++
		b.mu.Unlock()
		b.log.Warn("confirmation rate limited, returning default", "kind", kind, "default", def)
		return def
	}
	b.pending[req.ID] = req
	b.lastDispatch = now
	channels := make([]Channel, len(b.channels))
	copy(channels, b.channels)
	b.mu.Unlock()

	for _, ch := range channels {
		ch.Ask(req)
	}
	b.log.Info("confirmation requested", "id", req.ID, "kind", kind, "timeout", timeout.String())

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	select {
	case action := <-req.reply:
		b.mu.Lock()
		b.answered++
		b.mu.Unlock()
		b.log.Info("confirmation answered", "id", req.ID, "action", action)
		return action
	case <-time.After(timeout):
		b.mu.Lock()
		b.timedOut++
		b.mu.Unlock()
		b.log.Info("confirmation timed out", "id", req.ID, "default", def)
		return def
	case <-ctx.Done():
		return def
	}
}

// Reply answers a pending request. The first valid reply wins; later
// replies and unknown ids return false.
func (b *Bus) Reply(id, action string) bool {
	b.mu.Lock()
	req, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return false
	}

	valid := false
	for _, o := range req.Options {
		if o.Action == action {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	select {
	case req.reply <- action:
		return true
	default:
		return false
	}
}

// Pending returns a copy of the outstanding requests
func (b *Bus) Pending() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Request, 0, len(b.pending))
	for _, r := range b.pending {
		out = append(out, r)
	}
	return out
}

// Stats reports bus counters
func (b *Bus) Stats() (answered, timedOut, dropped int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.answered, b.timedOut, b.dropped
}
