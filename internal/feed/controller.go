// Package feed owns the vertical feed's current index and drives playback on
// whichever item becomes current.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/milearning/milearning/internal/card"
	"github.com/milearning/milearning/internal/view"
	"go.uber.org/zap"
)

const (
	// SwipeThreshold is the minimum vertical travel, in logical pixels, for a
	// touch gesture to navigate.
	SwipeThreshold = 50
	SettleWindow   = 300 * time.Millisecond
	UnmuteDelay    = 300 * time.Millisecond
)

// Item is one playable entry of the feed. *card.Card satisfies it.
type Item interface {
	Play(ctx context.Context) error
	Pause()
	Paused() bool
	SetMuted(muted bool)
	Muted() bool
}

// visibilityAware items are told when they enter or leave the screen.
type visibilityAware interface {
	SetVisible(visible bool)
}

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMode sets the view the feed is rendered in. Only view.Feed plays on navigation.
func WithMode(mode view.Mode) Option {
	return func(c *Controller) { c.mode = mode }
}

// WithIndexListener is called with the new index after every transition.
// It runs without the controller lock held.
func WithIndexListener(fn func(index int)) Option {
	return func(c *Controller) { c.onIndex = fn }
}

type Controller struct {
	items   []Item
	mode    view.Mode
	clock   clockwork.Clock
	log     *zap.Logger
	onIndex func(int)

	mu         sync.Mutex
	index      int
	generation uint64
	interacted bool
	closed     bool
	fullscreen bool

	scrolling bool
	settle    clockwork.Timer
	settleGen uint64
	unmute    clockwork.Timer

	touching   bool
	touchStart float64
	touchEnd   float64
	touchMoved bool
}

func New(items []Item, opts ...Option) *Controller {
	c := &Controller{
		items: items,
		mode:  view.Feed,
		clock: clockwork.NewRealClock(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Len() int { return len(c.items) }

// Empty reports a feed with nothing to show. Empty feeds never play.
func (c *Controller) Empty() bool { return len(c.items) == 0 }

func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Scrolling reports whether a transition happened within the last SettleWindow.
func (c *Controller) Scrolling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrolling
}

func (c *Controller) Mode() view.Mode { return c.mode }

// Start shows the first item and, in the feed view, plays it with sound eligibility.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.Empty() {
		return
	}
	setVisible(c.items[c.index], true)
	if c.mode.Autoplays() {
		c.playCurrentLocked(ctx)
	}
}

func (c *Controller) Next(ctx context.Context) bool {
	return c.move(ctx, func(i int) int { return i + 1 })
}

func (c *Controller) Previous(ctx context.Context) bool {
	return c.move(ctx, func(i int) int { return i - 1 })
}

// JumpTo moves to index i, clamped to the feed bounds.
func (c *Controller) JumpTo(ctx context.Context, i int) bool {
	return c.move(ctx, func(int) int { return i })
}

// Wheel navigates by the sign of deltaY. Zero deltas are ignored.
func (c *Controller) Wheel(ctx context.Context, deltaY float64) bool {
	switch {
	case deltaY > 0:
		return c.Next(ctx)
	case deltaY < 0:
		return c.Previous(ctx)
	default:
		return false
	}
}

func (c *Controller) TouchStart(y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touching = true
	c.touchStart = y
	c.touchMoved = false
}

func (c *Controller) TouchMove(y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.touching {
		return
	}
	c.touchEnd = y
	c.touchMoved = true
}

// TouchEnd completes a gesture. Travel beyond SwipeThreshold navigates:
// a finger moving up goes to the next item.
func (c *Controller) TouchEnd(ctx context.Context) bool {
	c.mu.Lock()
	ok := c.touching && c.touchMoved
	diff := c.touchStart - c.touchEnd
	c.touching, c.touchMoved = false, false
	c.mu.Unlock()

	if !ok {
		return false
	}
	switch {
	case diff > SwipeThreshold:
		return c.Next(ctx)
	case diff < -SwipeThreshold:
		return c.Previous(ctx)
	default:
		return false
	}
}

// Key handles arrow keys. Any other key is ignored.
func (c *Controller) Key(ctx context.Context, key string) bool {
	switch key {
	case "ArrowDown", "ArrowRight":
		return c.Next(ctx)
	case "ArrowUp", "ArrowLeft":
		return c.Previous(ctx)
	default:
		return false
	}
}

// Interact records a user gesture. The current item is unmuted and resumed
// if the feed view had it paused.
func (c *Controller) Interact(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interacted = true
	if c.closed || c.Empty() {
		return
	}
	item := c.items[c.index]
	item.SetMuted(false)
	if c.mode.Autoplays() && item.Paused() {
		if err := item.Play(ctx); err != nil {
			c.log.Debug("play after interaction failed", zap.Int("index", c.index), zap.Error(err))
		}
	}
}

func (c *Controller) Interacted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interacted
}

// ToggleFullscreen switches between the framed and the full-width layout.
func (c *Controller) ToggleFullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullscreen = !c.fullscreen
	return c.fullscreen
}

func (c *Controller) Fullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullscreen
}

// Close stops every timer and pauses every item. Later input is ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	stopTimer(&c.unmute)
	stopTimer(&c.settle)
	c.scrolling = false
	for _, item := range c.items {
		item.Pause()
	}
}

func (c *Controller) move(ctx context.Context, target func(int) int) bool {
	c.mu.Lock()
	moved, index := c.moveLocked(ctx, target(c.index))
	c.mu.Unlock()

	if moved && c.onIndex != nil {
		c.onIndex(index)
	}
	return moved
}

func (c *Controller) moveLocked(ctx context.Context, to int) (bool, int) {
	if c.closed || len(c.items) <= 1 {
		return false, c.index
	}
	to = min(max(to, 0), len(c.items)-1)
	if to == c.index {
		return false, c.index
	}

	from := c.index
	c.index = to
	c.generation++
	stopTimer(&c.unmute)

	old := c.items[from]
	old.Pause()
	setVisible(old, false)
	setVisible(c.items[to], true)

	c.startSettleLocked()
	if c.mode.Autoplays() {
		c.playCurrentLocked(ctx)
	}
	c.log.Debug("feed moved", zap.Int("from", from), zap.Int("to", to))
	return true, to
}

func (c *Controller) soundEligibleLocked() bool {
	return c.index == 0 || c.interacted
}

// playCurrentLocked tries the current item unmuted first when it may have
// sound, retries muted on rejection and schedules the delayed unmute.
func (c *Controller) playCurrentLocked(ctx context.Context) {
	item := c.items[c.index]
	eligible := c.soundEligibleLocked()
	if eligible {
		item.SetMuted(false)
	}

	fallback, err := card.PlayWithFallback(ctx, item)
	if err != nil {
		c.log.Warn("feed playback failed", zap.Int("index", c.index), zap.Error(err))
		return
	}
	if fallback {
		c.log.Debug("playing muted after autoplay rejection", zap.Int("index", c.index))
	}
	if eligible {
		c.scheduleUnmuteLocked()
	}
}

func (c *Controller) scheduleUnmuteLocked() {
	stopTimer(&c.unmute)
	gen, index := c.generation, c.index
	c.unmute = c.clock.AfterFunc(UnmuteDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.generation != gen || c.index != index {
			return
		}
		c.unmute = nil
		c.items[index].SetMuted(false)
	})
}

func (c *Controller) startSettleLocked() {
	stopTimer(&c.settle)
	c.scrolling = true
	c.settleGen++
	gen := c.settleGen
	c.settle = c.clock.AfterFunc(SettleWindow, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.settleGen != gen {
			return
		}
		c.settle = nil
		c.scrolling = false
	})
}

func setVisible(item Item, visible bool) {
	if v, ok := item.(visibilityAware); ok {
		v.SetVisible(visible)
	}
}

func stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
