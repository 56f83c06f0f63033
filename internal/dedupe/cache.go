// ABOUTME: Thread-safe, time-windowed record of dispatched messages per conversation.
// ABOUTME: Answers "was this text already sent here recently?" and sweeps stale records.

package dedupe

import (
	"log/slog"
	"sync"
	"time"
)

// Default policy values.
const (
	DefaultRetention     = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Dispatch describes one message that the transport confirmed as sent.
// Values are immutable once recorded.
type Dispatch struct {
	ConversationID string
	Text           string
	// SentAt is the epoch second at which the provider confirmed delivery.
	SentAt int64
	// DispatchID is the provider-assigned message id, kept for logging only.
	DispatchID string
}

// Cache holds recently dispatched messages, indexed by conversation id.
// Records are appended by Record and removed only by Sweep.
type Cache struct {
	mu      sync.RWMutex
	byConv  map[string][]Dispatch
	total   int
	now     func() time.Time
	logger  *slog.Logger
	horizon int64 // retention, in seconds
	every   time.Duration

	lifeMu  sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithRetention sets the maximum age a record may reach before a sweep removes it.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.horizon = int64(d / time.Second)
		}
	}
}

// WithSweepInterval sets how often the background sweep runs after Start.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.every = d
		}
	}
}

// WithClock replaces the wall clock. Tests use it to simulate elapsed time.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for sweep reports and match diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an empty cache. The background sweep is not armed until Start.
func New(opts ...Option) *Cache {
	c := &Cache{
		byConv:  make(map[string][]Dispatch),
		now:     time.Now,
		logger:  slog.Default(),
		horizon: int64(DefaultRetention / time.Second),
		every:   DefaultSweepInterval,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retention returns the configured retention horizon.
func (c *Cache) Retention() time.Duration {
	return time.Duration(c.horizon) * time.Second
}

// Record appends a dispatch. It never rejects and never deduplicates:
// two identical sends are two records.
func (c *Cache) Record(d Dispatch) {
	c.mu.Lock()
	c.byConv[d.ConversationID] = append(c.byConv[d.ConversationID], d)
	c.total++
	size := c.total
	c.mu.Unlock()

	c.logger.Debug("dispatch recorded",
		"conversation", d.ConversationID,
		"dispatch_id", d.DispatchID,
		"text", Preview(d.Text),
		"size", size,
	)
}

// IsDuplicate reports whether text was recorded for conversationID no more
// than windowSeconds ago (inclusive). Matching is exact; no trimming or case
// folding. A non-positive window never matches.
//
// The window is checked independently of the retention horizon, so a window
// wider than the horizon only sees records the sweep has not removed yet.
func (c *Cache) IsDuplicate(conversationID, text string, windowSeconds int64) bool {
	if windowSeconds <= 0 {
		return false
	}
	now := c.now().Unix()

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, d := range c.byConv[conversationID] {
		if d.Text != text {
			continue
		}
		age := now - d.SentAt
		if age <= windowSeconds {
			c.logger.Debug("duplicate found",
				"conversation", conversationID,
				"dispatch_id", d.DispatchID,
				"sent_at", d.SentAt,
				"now", now,
			)
			return true
		}
		c.logger.Debug("text matched but outside window",
			"conversation", conversationID,
			"dispatch_id", d.DispatchID,
			"age", age,
			"window", windowSeconds,
		)
	}
	return false
}

// Size returns the number of records currently held, swept or not.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// Sweep removes every record whose age has reached the retention horizon and
// returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now().Unix()

	c.mu.Lock()
	before := c.total
	for conv, list := range c.byConv {
		kept := make([]Dispatch, 0, len(list))
		for _, d := range list {
			if now-d.SentAt < c.horizon {
				kept = append(kept, d)
			}
		}
		removed := len(list) - len(kept)
		if removed == 0 {
			continue
		}
		c.total -= removed
		if len(kept) == 0 {
			delete(c.byConv, conv)
		} else {
			c.byConv[conv] = kept
		}
	}
	removed := before - c.total
	size := c.total
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Info("cache sweep removed stale records", "removed", removed, "size", size)
	} else if before > 0 {
		c.logger.Debug("cache sweep removed nothing", "size", size)
	}
	return removed
}

// Start arms the periodic sweep. Calling it again, or after Stop, does nothing.
func (c *Cache) Start() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.started || c.stopped {
		return
	}
	c.started = true
	go c.loop()

	c.logger.Info("cache sweep scheduled",
		"interval", c.every,
		"retention", c.Retention(),
	)
}

func (c *Cache) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Stop disarms the sweep and waits for an in-flight pass to finish.
// It is safe to call multiple times and before Start.
func (c *Cache) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
	if c.started {
		<-c.done
	}
}

// Preview shortens text for log output.
func Preview(s string) string {
	const limit = 30
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
