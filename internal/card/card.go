// Package card drives the playback lifecycle and interaction surface of a
// single video in the feed.
package card

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/milearning/milearning/internal/catalog"
	"github.com/milearning/milearning/internal/view"
	"go.uber.org/zap"
)

const UnmuteDelay = 300 * time.Millisecond

var ErrErrored = errors.New("media failed to load")

type LoadState int

const (
	Idle LoadState = iota
	Loading
	Ready
	Errored
)

func (s LoadState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// VideoState is the shared state a card reports to. *videostate.State satisfies it.
type VideoState interface {
	UpdateProgress(id string, fraction float64) bool
	ToggleSave(id string) bool
	ToggleLike(id string) bool
	IsSaved(id string) bool
	IsLiked(id string) bool
}

type ShareData struct {
	Title string
	Text  string
	URL   string
}

// Sharer is the platform share sheet.
type Sharer interface {
	Share(ctx context.Context, data ShareData) error
}

type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

type Fullscreen interface {
	IsFullscreen() bool
	RequestFullscreen() error
	ExitFullscreen() error
}

type ShareMethod int

const (
	ShareUnavailable ShareMethod = iota
	SharedNatively
	CopiedLink
)

type Config struct {
	Video catalog.Video
	Media Media
	State VideoState
	Mode  view.Mode
	// First marks the feed's designated first item.
	First bool
	// Loud lets the first item start with sound.
	Loud     bool
	ShareURL string

	Clock      clockwork.Clock
	Sharer     Sharer
	Clipboard  Clipboard
	Fullscreen Fullscreen
	Logger     *zap.Logger
}

// Snapshot is what a renderer needs to draw a card.
type Snapshot struct {
	State      LoadState
	Playing    bool
	Muted      bool
	Visible    bool
	Liked      bool
	Saved      bool
	Likes      string
	Views      string
	Progress   float64
	Fullscreen bool
}

type Card struct {
	video      catalog.Video
	media      Media
	state      VideoState
	mode       view.Mode
	first      bool
	loud       bool
	shareURL   string
	clock      clockwork.Clock
	sharer     Sharer
	clipboard  Clipboard
	fullscreen Fullscreen
	log        *zap.Logger

	mu       sync.Mutex
	load     LoadState
	playing  bool
	muted    bool
	visible  bool
	likes    int
	progress float64
	unmute   clockwork.Timer
	torndown bool
}

func New(cfg Config) *Card {
	c := &Card{
		video:      cfg.Video,
		media:      cfg.Media,
		state:      cfg.State,
		mode:       cfg.Mode,
		first:      cfg.First,
		loud:       cfg.Loud,
		shareURL:   cfg.ShareURL,
		clock:      cfg.Clock,
		sharer:     cfg.Sharer,
		clipboard:  cfg.Clipboard,
		fullscreen: cfg.Fullscreen,
		log:        cfg.Logger,
		likes:      cfg.Video.Likes,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.shareURL == "" {
		c.shareURL = "/video/" + c.video.ID
	}
	c.log = c.log.With(zap.String("video", c.video.ID))
	c.muted = !c.startsLoud()
	c.media.SetMuted(c.muted)
	return c
}

func (c *Card) startsLoud() bool { return c.first && c.loud }

func (c *Card) Video() catalog.Video { return c.video }

// LoadStart marks the media as fetching. It has no effect once errored.
func (c *Card) LoadStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load == Errored || c.torndown {
		return
	}
	c.load = Loading
}

// MediaError moves the card to the terminal error state.
func (c *Card) MediaError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Warn("media failed to load", zap.Error(err))
	c.load = Errored
	c.playing = false
	c.stopUnmuteLocked()
}

// CanPlay handles the media becoming playable. Visible cards autoplay in the
// feed and the first card autoplays anywhere; the others are held paused.
// A visible card that was already unmuted keeps its sound.
func (c *Card) CanPlay(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load == Errored || c.torndown {
		return
	}
	c.load = Ready
	if !c.visible || c.muted {
		c.setMutedLocked(!c.startsLoud())
	}

	if !c.visible || !(c.mode.Autoplays() || c.first) {
		c.media.Pause()
		c.playing = false
		return
	}

	fallback, err := PlayWithFallback(ctx, c.media)
	c.muted = c.media.Muted()
	if err != nil {
		c.log.Warn("autoplay failed", zap.Error(err))
		c.playing = false
		return
	}
	c.playing = true
	if !fallback && c.startsLoud() {
		c.scheduleUnmuteLocked()
	}
}

// TimeUpdate pushes the playback fraction to the shared state. Ticks with an
// unknown or zero duration are ignored.
func (c *Card) TimeUpdate() bool {
	c.mu.Lock()
	if c.load == Errored || c.torndown {
		c.mu.Unlock()
		return false
	}
	duration := c.media.Duration()
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		c.mu.Unlock()
		return false
	}
	fraction := c.media.CurrentTime() / duration
	c.progress = min(max(fraction, 0), 1)
	c.mu.Unlock()

	return c.state.UpdateProgress(c.video.ID, fraction)
}

// Tap toggles playback. Starting playback by tap always asks for sound first.
func (c *Card) Tap(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load == Errored || c.torndown {
		return
	}

	if !c.media.Paused() {
		c.media.Pause()
		c.playing = false
		return
	}

	c.setMutedLocked(false)
	_, err := PlayWithFallback(ctx, c.media)
	c.muted = c.media.Muted()
	if err != nil {
		c.log.Warn("play on tap failed", zap.Error(err))
		c.playing = false
		return
	}
	c.playing = true
}

// ToggleMute flips this card's mute state only and returns the new state.
func (c *Card) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopUnmuteLocked()
	c.setMutedLocked(!c.muted)
	return c.muted
}

// Like toggles the like in the shared state and moves the local counter with it.
func (c *Card) Like() bool {
	on := c.state.ToggleLike(c.video.ID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.likes++
	} else if c.likes > 0 {
		c.likes--
	}
	return on
}

func (c *Card) Save() bool {
	return c.state.ToggleSave(c.video.ID)
}

// Share prefers the platform share sheet and otherwise copies the link.
// Failures are logged and never returned.
func (c *Card) Share(ctx context.Context) ShareMethod {
	if c.sharer != nil {
		data := ShareData{Title: c.video.Title, Text: c.video.Description, URL: c.shareURL}
		if data.Title == "" {
			data.Title = "Check out this video"
		}
		if data.Text == "" {
			data.Text = "Watch this amazing video"
		}
		if err := c.sharer.Share(ctx, data); err != nil {
			c.log.Info("share dismissed or failed", zap.Error(err))
		}
		return SharedNatively
	}
	if c.clipboard != nil {
		if err := c.clipboard.WriteText(ctx, c.shareURL); err != nil {
			c.log.Warn("could not copy link", zap.Error(err))
		}
		return CopiedLink
	}
	c.log.Info("no share target available")
	return ShareUnavailable
}

// ToggleFullscreen enters or leaves fullscreen and reports the resulting state.
func (c *Card) ToggleFullscreen() bool {
	if c.fullscreen == nil {
		return false
	}
	if c.fullscreen.IsFullscreen() {
		if err := c.fullscreen.ExitFullscreen(); err != nil {
			c.log.Warn("could not exit fullscreen", zap.Error(err))
		}
	} else if err := c.fullscreen.RequestFullscreen(); err != nil {
		c.log.Warn("could not enter fullscreen", zap.Error(err))
	}
	return c.fullscreen.IsFullscreen()
}

// SetVisible records whether the card is on screen. Hidden cards are paused
// and lose any pending unmute.
func (c *Card) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = visible
	if !visible {
		c.stopUnmuteLocked()
		c.media.Pause()
		c.playing = false
	}
}

// Teardown stops the card's timers and pauses its media. Later events are ignored.
func (c *Card) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.torndown = true
	c.stopUnmuteLocked()
	c.media.Pause()
	c.playing = false
}

// Play starts playback on behalf of a feed controller. Errored cards refuse.
func (c *Card) Play(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load == Errored {
		return ErrErrored
	}
	if c.torndown {
		return errors.New("card torn down")
	}
	if err := c.media.Play(ctx); err != nil {
		c.playing = false
		return err
	}
	c.playing = true
	return nil
}

func (c *Card) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media.Pause()
	c.playing = false
}

func (c *Card) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media.Paused()
}

func (c *Card) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setMutedLocked(muted)
}

func (c *Card) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Card) Snapshot() Snapshot {
	liked := c.state.IsLiked(c.video.ID)
	saved := c.state.IsSaved(c.video.ID)
	var fullscreen bool
	if c.fullscreen != nil {
		fullscreen = c.fullscreen.IsFullscreen()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:      c.load,
		Playing:    c.playing,
		Muted:      c.muted,
		Visible:    c.visible,
		Liked:      liked,
		Saved:      saved,
		Likes:      FormatCount(c.likes),
		Views:      FormatCount(c.video.Views),
		Progress:   c.progress,
		Fullscreen: fullscreen,
	}
}

func (c *Card) setMutedLocked(muted bool) {
	c.muted = muted
	c.media.SetMuted(muted)
}

func (c *Card) scheduleUnmuteLocked() {
	c.stopUnmuteLocked()
	var timer clockwork.Timer
	timer = c.clock.AfterFunc(UnmuteDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.unmute != timer || c.torndown || c.load == Errored {
			return
		}
		c.unmute = nil
		c.setMutedLocked(false)
	})
	c.unmute = timer
}

func (c *Card) stopUnmuteLocked() {
	if c.unmute != nil {
		c.unmute.Stop()
		c.unmute = nil
	}
}
