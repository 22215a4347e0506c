package typing

import (
	"strings"
	"sync"
	"time"
)

// DefaultIdleDelay is how long a producer stays Typing without input.
const DefaultIdleDelay = 2 * time.Second

// Producer turns local input activity into edge-triggered start/stop signals.
//
// The emit callback runs while the producer holds its lock so signals leave in
// state order; it must not call back into the producer.
type Producer struct {
	delay  time.Duration
	emit   func(isTyping bool)
	typing bool
	timer  *time.Timer
	gen    uint64
	closed bool
	mu     sync.Mutex
}

// NewProducer creates an idle producer. A non-positive delay uses DefaultIdleDelay.
func NewProducer(delay time.Duration, emit func(isTyping bool)) *Producer {
	if delay <= 0 {
		delay = DefaultIdleDelay
	}
	if emit == nil {
		emit = func(bool) {}
	}
	return &Producer{delay: delay, emit: emit}
}

// InputChanged reports the current content of the input widget.
func (p *Producer) InputChanged(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if strings.TrimSpace(content) == "" {
		p.stopLocked()
		return
	}

	if !p.typing {
		p.typing = true
		p.emit(true)
	}
	p.armLocked()
}

// Submitted reports that the pending input was sent.
func (p *Producer) Submitted() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.stopLocked()
}

// SetDelay changes the idle delay for timers armed from now on. A
// non-positive delay is ignored.
func (p *Producer) SetDelay(delay time.Duration) {
	if delay <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = delay
}

// Typing reports whether the producer is in the Typing state.
func (p *Producer) Typing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing
}

// Close cancels the pending decay timer without emitting anything.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.closed = true
}

// armLocked replaces the decay timer. The new timer is armed before the old
// one is stopped, and the generation check in expire discards a callback that
// was already running for the old one.
func (p *Producer) armLocked() {
	p.gen++
	gen := p.gen
	next := time.AfterFunc(p.delay, func() { p.expire(gen) })
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = next
}

func (p *Producer) stopLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.typing {
		p.typing = false
		p.emit(false)
	}
}

func (p *Producer) expire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || !p.typing {
		return
	}
	p.timer = nil
	p.typing = false
	p.emit(false)
}
