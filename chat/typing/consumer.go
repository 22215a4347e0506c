package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultDisplayDelay is how long a remote start signal stays visible without
// a refresh. It is longer than DefaultIdleDelay to absorb network jitter.
const DefaultDisplayDelay = 3 * time.Second

type remoteTypist struct {
	timer *time.Timer
	gen   uint64
	seq   uint64
}

// Consumer keeps the set of remote participants currently typing.
type Consumer struct {
	delay    time.Duration
	typists  map[string]*remoteTypist
	gen      uint64
	seq      uint64
	closed   bool
	onChange func(names []string)

	// pending holds snapshots not yet handed to onChange. Whoever finds
	// notifying false drains it in order, outside mu.
	pending   [][]string
	notifying bool

	mu sync.Mutex
}

// NewConsumer creates an empty consumer. onChange, when set, receives the
// typing names after every change of the set, in order and without any lock
// held, so it may call Names, Indicator or Observe.
func NewConsumer(delay time.Duration, onChange func(names []string)) *Consumer {
	if delay <= 0 {
		delay = DefaultDisplayDelay
	}
	return &Consumer{
		delay:    delay,
		typists:  make(map[string]*remoteTypist),
		onChange: onChange,
	}
}

// Observe applies a typing signal received for name.
func (c *Consumer) Observe(name string, isTyping bool) {
	c.mu.Lock()
	if c.closed || name == "" {
		c.mu.Unlock()
		return
	}

	changed := false
	if isTyping {
		typist, ok := c.typists[name]
		if !ok {
			c.seq++
			typist = &remoteTypist{seq: c.seq}
			c.typists[name] = typist
			changed = true
		}
		c.gen++
		gen := c.gen
		next := time.AfterFunc(c.delay, func() { c.expire(name, gen) })
		if typist.timer != nil {
			typist.timer.Stop()
		}
		typist.timer = next
		typist.gen = gen
	} else if typist, ok := c.typists[name]; ok {
		typist.timer.Stop()
		delete(c.typists, name)
		changed = true
	}

	c.finish(changed)
}

// SetDelay changes the display delay for timers armed from now on. A
// non-positive delay is ignored.
func (c *Consumer) SetDelay(delay time.Duration) {
	if delay <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = delay
}

// Forget drops name without waiting for its timer, e.g. when it leaves.
func (c *Consumer) Forget(name string) {
	c.Observe(name, false)
}

// Names returns the typing names ordered by when they started typing.
func (c *Consumer) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.namesLocked()
}

// Indicator renders the current set for display.
func (c *Consumer) Indicator() string {
	return Render(c.Names())
}

// Close cancels every pending timer and empties the set.
func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, typist := range c.typists {
		typist.timer.Stop()
		delete(c.typists, name)
	}
	c.closed = true
}

func (c *Consumer) expire(name string, gen uint64) {
	c.mu.Lock()
	typist, ok := c.typists[name]
	if !ok || typist.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.typists, name)
	c.finish(true)
}

// finish queues the new snapshot if the set changed and releases mu. The first
// caller to find no delivery in progress drains the queue; later callers
// return at once and their snapshots are delivered by that drainer.
func (c *Consumer) finish(changed bool) {
	if changed && c.onChange != nil {
		c.pending = append(c.pending, c.namesLocked())
	}
	if c.notifying || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}

	c.notifying = true
	for len(c.pending) > 0 {
		names := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.onChange(names)
		c.mu.Lock()
	}
	c.notifying = false
	c.mu.Unlock()
}

func (c *Consumer) namesLocked() []string {
	names := make([]string, 0, len(c.typists))
	for name := range c.typists {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return c.typists[names[i]].seq < c.typists[names[j]].seq
	})
	return names
}
