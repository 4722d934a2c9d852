package chunker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrConsumed is returned by a second Start.
var ErrConsumed = errors.New("chunker: pipeline already started")

// Target receives materialised chunks, in order.
type Target interface {
	AppendChunk(text string) error
}

// Viewport is the scroll state of the reading area, in pixels.
type Viewport struct {
	ScrollTop    float64 `json:"scrollTop"`
	ClientHeight float64 `json:"clientHeight"`
	ScrollHeight float64 `json:"scrollHeight"`
}

// NearBottom reports whether the visible bottom edge is within threshold
// of the end of the content.
func (v Viewport) NearBottom(threshold float64) bool {
	return v.ScrollTop+v.ClientHeight >= v.ScrollHeight-threshold
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used by the scroll throttle.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithOnChunk is called after every materialised chunk.
func WithOnChunk(fn func(rendered, total int)) Option {
	return func(p *Pipeline) { p.onChunk = fn }
}

// WithOnComplete is called once, after the last chunk.
func WithOnComplete(fn func()) Option {
	return func(p *Pipeline) { p.onComplete = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline materialises chunks into a Target: a few up front, then one per
// scroll trigger near the bottom. It is consumed once. Callbacks run
// without the pipeline lock held.
type Pipeline struct {
	chunks []Chunk
	target Target
	policy Policy
	now    func() time.Time
	logger *slog.Logger

	onChunk    func(rendered, total int)
	onComplete func()

	mu       sync.Mutex
	next     int
	started  bool
	attached bool
	done     bool
	lastEval time.Time
}

// NewPipeline prepares a pipeline over chunks.
func NewPipeline(chunks []Chunk, target Target, policy Policy, opts ...Option) *Pipeline {
	policy.Defaults()
	p := &Pipeline{
		chunks: chunks,
		target: target,
		policy: policy,
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Start renders the initial chunks and attaches the scroll trigger when
// more remain. It returns the number of chunks rendered.
func (p *Pipeline) Start() (int, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return 0, ErrConsumed
	}
	p.started = true

	n := min(p.policy.InitialChunks, len(p.chunks))
	var events []func()
	var err error
	for range n {
		var ev []func()
		ev, err = p.renderNextLocked()
		events = append(events, ev...)
		if err != nil {
			break
		}
	}
	if err == nil && !p.done {
		if p.next >= len(p.chunks) {
			events = append(events, p.completeLocked()...)
		} else {
			p.attached = true
		}
	}
	rendered := p.next
	p.mu.Unlock()

	for _, ev := range events {
		ev()
	}
	p.logger.Debug("chunker: started", "rendered", rendered, "total", len(p.chunks))
	return rendered, err
}

// OnScroll evaluates one scroll event. Events closer than ScrollThrottle to
// the previous evaluation are dropped. Near the bottom exactly one chunk is
// rendered. It reports whether a chunk was rendered.
func (p *Pipeline) OnScroll(v Viewport) (bool, error) {
	p.mu.Lock()
	if !p.attached {
		p.mu.Unlock()
		return false, nil
	}
	now := p.now()
	if !p.lastEval.IsZero() && now.Sub(p.lastEval) < p.policy.ScrollThrottle {
		p.mu.Unlock()
		return false, nil
	}
	p.lastEval = now
	if !v.NearBottom(p.policy.ScrollThreshold) {
		p.mu.Unlock()
		return false, nil
	}

	events, err := p.renderNextLocked()
	p.mu.Unlock()

	for _, ev := range events {
		ev()
	}
	return err == nil, err
}

// renderNextLocked appends the next chunk and returns the callbacks to run
// once the lock is released.
func (p *Pipeline) renderNextLocked() ([]func(), error) {
	c := p.chunks[p.next]
	if err := p.target.AppendChunk(c.Text); err != nil {
		p.attached = false
		p.logger.Error("chunker: append failed", "chunk", c.Index, "error", err)
		return nil, fmt.Errorf("chunker: chunk %d: %w", c.Index, err)
	}
	p.next++

	var events []func()
	if p.onChunk != nil {
		rendered, total := p.next, len(p.chunks)
		events = append(events, func() { p.onChunk(rendered, total) })
	}
	if p.started && p.attached && p.next >= len(p.chunks) {
		events = append(events, p.completeLocked()...)
	}
	return events, nil
}

func (p *Pipeline) completeLocked() []func() {
	p.attached = false
	if p.done {
		return nil
	}
	p.done = true
	p.logger.Debug("chunker: all chunks rendered", "total", len(p.chunks))
	if p.onComplete == nil {
		return nil
	}
	return []func(){p.onComplete}
}

// Detach stops reacting to scroll events without completing.
func (p *Pipeline) Detach() {
	p.mu.Lock()
	p.attached = false
	p.mu.Unlock()
}

// Progress is the fraction of chunks rendered, 1 when there are none.
func (p *Pipeline) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		return 1
	}
	return float64(p.next) / float64(len(p.chunks))
}

// Rendered is the number of chunks materialised so far.
func (p *Pipeline) Rendered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Total is the number of chunks.
func (p *Pipeline) Total() int { return len(p.chunks) }

// Attached reports whether scroll events are evaluated.
func (p *Pipeline) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// Done reports whether every chunk has been rendered.
func (p *Pipeline) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
