package card

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/milearning/milearning/internal/card/cardtest"
	"github.com/milearning/milearning/internal/catalog"
	"github.com/milearning/milearning/internal/videostate"
	"github.com/milearning/milearning/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	card  *Card
	media *cardtest.Media
	state *videostate.State
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T, mutate func(*Config)) fixture {
	t.Helper()
	c, err := catalog.New([]catalog.Video{
		{ID: "v1", Title: "Photosynthesis", Description: "Light to sugar", Likes: 999, Views: 1260},
	})
	require.NoError(t, err)
	state := videostate.New(c, videostate.WithThrottle(0))
	media := cardtest.NewMedia()
	clock := clockwork.NewFakeClock()
	video, _ := c.ByID("v1")

	cfg := Config{Video: video, Media: media, State: state, Mode: view.Feed, Clock: clock}
	if mutate != nil {
		mutate(&cfg)
	}
	return fixture{card: New(cfg), media: media, state: state, clock: clock}
}

func TestNew_InitialMute(t *testing.T) {
	plain := newFixture(t, nil)
	assert.True(t, plain.card.Muted())
	assert.True(t, plain.media.Muted())

	firstOnly := newFixture(t, func(c *Config) { c.First = true })
	assert.True(t, firstOnly.card.Muted())

	loud := newFixture(t, func(c *Config) { c.First = true; c.Loud = true })
	assert.False(t, loud.card.Muted())
	assert.False(t, loud.media.Muted())
}

func TestCanPlay_AutoplayPolicy(t *testing.T) {
	tests := []struct {
		name     string
		mode     view.Mode
		first    bool
		visible  bool
		wantPlay bool
	}{
		{"visible in feed", view.Feed, false, true, true},
		{"hidden in feed", view.Feed, false, false, false},
		{"grid item", view.Grid, false, true, false},
		{"first grid item", view.Grid, true, true, true},
		{"first search item hidden", view.Search, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *Config) { c.Mode = tt.mode; c.First = tt.first })
			f.card.SetVisible(tt.visible)
			f.card.LoadStart()
			assert.Equal(t, Loading, f.card.Snapshot().State)

			f.card.CanPlay(context.Background())

			snap := f.card.Snapshot()
			assert.Equal(t, Ready, snap.State)
			assert.Equal(t, tt.wantPlay, snap.Playing)
			assert.Equal(t, !tt.wantPlay, f.media.Paused())
		})
	}
}

func TestCanPlay_RetriesMutedWhenRejected(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.First = true; c.Loud = true })
	f.media.RejectUnmuted(true)
	f.card.SetVisible(true)
	f.media.ResetCalls()

	f.card.CanPlay(context.Background())

	assert.Equal(t, []string{"unmute", "play(muted=false)", "mute", "play(muted=true)"}, f.media.Calls())
	snap := f.card.Snapshot()
	assert.True(t, snap.Playing)
	assert.True(t, snap.Muted)

	f.clock.Advance(UnmuteDelay)
	assert.True(t, f.media.Muted(), "no unmute is scheduled after a muted fallback")
}

func TestCanPlay_FirstLoudItemUnmutesAfterDelay(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.First = true; c.Loud = true })
	f.card.SetVisible(true)
	f.card.CanPlay(context.Background())

	// The platform may mute on its own between play and the delayed unmute.
	f.media.SetMuted(true)
	f.clock.Advance(UnmuteDelay)

	require.Eventually(t, func() bool { return !f.media.Muted() }, time.Second, 5*time.Millisecond)
	assert.False(t, f.card.Muted())
}

func TestCanPlay_KeepsSoundOfUnmutedVisibleCard(t *testing.T) {
	f := newFixture(t, nil)
	f.card.SetVisible(true)
	// The controller unmuted this card after the user interacted, before the media was ready.
	f.card.SetMuted(false)
	f.media.ResetCalls()

	f.card.CanPlay(context.Background())

	assert.False(t, f.card.Muted())
	assert.False(t, f.media.Muted())
	assert.False(t, f.media.Paused())
	assert.Equal(t, []string{"play(muted=false)"}, f.media.Calls())
}

func TestCanPlay_HiddenCardReturnsToInitialMute(t *testing.T) {
	f := newFixture(t, nil)
	f.card.SetMuted(false)

	f.card.CanPlay(context.Background())

	assert.True(t, f.card.Muted())
	assert.True(t, f.media.Paused())
}

func TestToggleMute_CancelsPendingUnmute(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.First = true; c.Loud = true })
	f.card.SetVisible(true)
	f.card.CanPlay(context.Background())

	assert.True(t, f.card.ToggleMute())
	f.clock.Advance(UnmuteDelay)
	time.Sleep(10 * time.Millisecond)

	assert.True(t, f.media.Muted())
}

func TestToggleMute_IsLocalToCard(t *testing.T) {
	a := newFixture(t, nil)
	b := newFixture(t, nil)

	assert.False(t, a.card.ToggleMute())

	assert.False(t, a.media.Muted())
	assert.True(t, b.card.Muted())
	assert.True(t, b.media.Muted())
}

func TestMediaError_IsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.card.SetVisible(true)
	f.card.LoadStart()
	f.card.MediaError(errors.New("404"))

	f.card.LoadStart()
	f.card.CanPlay(context.Background())
	f.card.Tap(context.Background())
	f.media.SetTime(10, 20)

	assert.Equal(t, Errored, f.card.Snapshot().State)
	assert.False(t, f.card.Snapshot().Playing)
	assert.ErrorIs(t, f.card.Play(context.Background()), ErrErrored)
	assert.False(t, f.card.TimeUpdate())
	assert.True(t, f.media.Paused())
}

func TestTimeUpdate_PushesFraction(t *testing.T) {
	f := newFixture(t, nil)
	f.media.SetTime(30, 60)

	require.True(t, f.card.TimeUpdate())

	p, ok := f.state.Progress("v1")
	require.True(t, ok)
	assert.InDelta(t, 0.5, p.LastPosition, 1e-9)
	assert.InDelta(t, 0.5, f.card.Snapshot().Progress, 1e-9)
}

func TestTimeUpdate_GuardsDuration(t *testing.T) {
	for _, d := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		f := newFixture(t, nil)
		f.media.SetTime(5, d)

		assert.False(t, f.card.TimeUpdate(), "duration %v", d)
		_, ok := f.state.Progress("v1")
		assert.False(t, ok)
	}
}

func TestTap(t *testing.T) {
	f := newFixture(t, nil)

	f.card.Tap(context.Background())
	assert.True(t, f.card.Snapshot().Playing)
	assert.False(t, f.card.Muted(), "tap to play asks for sound")

	f.card.Tap(context.Background())
	assert.False(t, f.card.Snapshot().Playing)
	assert.True(t, f.media.Paused())
}

func TestTap_FallsBackToMuted(t *testing.T) {
	f := newFixture(t, nil)
	f.media.RejectUnmuted(true)

	f.card.Tap(context.Background())

	assert.True(t, f.card.Snapshot().Playing)
	assert.True(t, f.card.Muted())
}

func TestTap_BothAttemptsFail(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, func(c *Config) { c.Logger = zap.New(core) })
	f.media.Fail(errors.New("decoder gone"))

	f.card.Tap(context.Background())

	assert.False(t, f.card.Snapshot().Playing)
	assert.Equal(t, 1, logs.FilterMessage("play on tap failed").Len())
}

func TestLike_UpdatesStateAndCounter(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, "999", f.card.Snapshot().Likes)

	assert.True(t, f.card.Like())
	snap := f.card.Snapshot()
	assert.True(t, snap.Liked)
	assert.Equal(t, "1.0K", snap.Likes)
	assert.True(t, f.state.IsLiked("v1"))

	assert.False(t, f.card.Like())
	assert.Equal(t, "999", f.card.Snapshot().Likes)
	assert.Equal(t, "1.3K", f.card.Snapshot().Views)
}

func TestSave(t *testing.T) {
	f := newFixture(t, nil)

	assert.True(t, f.card.Save())
	assert.True(t, f.card.Snapshot().Saved)
	assert.False(t, f.card.Save())
	assert.False(t, f.state.IsSaved("v1"))
}

type fakeSharer struct {
	got ShareData
	err error
}

func (s *fakeSharer) Share(_ context.Context, d ShareData) error {
	s.got = d
	return s.err
}

type fakeClipboard struct {
	text string
	err  error
}

func (c *fakeClipboard) WriteText(_ context.Context, text string) error {
	c.text = text
	return c.err
}

func TestShare_PrefersPlatformSharer(t *testing.T) {
	sharer := &fakeSharer{}
	clip := &fakeClipboard{}
	f := newFixture(t, func(c *Config) { c.Sharer = sharer; c.Clipboard = clip; c.ShareURL = "https://milearning.app/v/v1" })

	assert.Equal(t, SharedNatively, f.card.Share(context.Background()))
	assert.Equal(t, ShareData{Title: "Photosynthesis", Text: "Light to sugar", URL: "https://milearning.app/v/v1"}, sharer.got)
	assert.Empty(t, clip.text)
}

func TestShare_FailureIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sharer := &fakeSharer{err: errors.New("AbortError")}
	f := newFixture(t, func(c *Config) { c.Sharer = sharer; c.Logger = zap.New(core) })

	assert.Equal(t, SharedNatively, f.card.Share(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("share dismissed or failed").Len())
}

func TestShare_ClipboardFallback(t *testing.T) {
	clip := &fakeClipboard{}
	f := newFixture(t, func(c *Config) { c.Clipboard = clip })

	assert.Equal(t, CopiedLink, f.card.Share(context.Background()))
	assert.Equal(t, "/video/v1", clip.text)
}

func TestShare_Unavailable(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, ShareUnavailable, f.card.Share(context.Background()))
}

type fakeFullscreen struct {
	on  bool
	err error
}

func (f *fakeFullscreen) IsFullscreen() bool { return f.on }

func (f *fakeFullscreen) RequestFullscreen() error {
	if f.err != nil {
		return f.err
	}
	f.on = true
	return nil
}

func (f *fakeFullscreen) ExitFullscreen() error {
	f.on = false
	return nil
}

func TestToggleFullscreen(t *testing.T) {
	fs := &fakeFullscreen{}
	f := newFixture(t, func(c *Config) { c.Fullscreen = fs })

	assert.True(t, f.card.ToggleFullscreen())
	assert.True(t, f.card.Snapshot().Fullscreen)
	assert.False(t, f.card.ToggleFullscreen())

	fs.err = errors.New("not allowed")
	assert.False(t, f.card.ToggleFullscreen())

	none := newFixture(t, nil)
	assert.False(t, none.card.ToggleFullscreen())
}

func TestSetVisible_HidingPauses(t *testing.T) {
	f := newFixture(t, nil)
	f.card.SetVisible(true)
	f.card.CanPlay(context.Background())
	require.True(t, f.card.Snapshot().Playing)

	f.card.SetVisible(false)

	assert.False(t, f.card.Snapshot().Playing)
	assert.True(t, f.media.Paused())
}

func TestTeardown(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.First = true; c.Loud = true })
	f.card.SetVisible(true)
	f.card.CanPlay(context.Background())
	f.media.SetMuted(true)

	f.card.Teardown()
	f.clock.Advance(UnmuteDelay)
	time.Sleep(10 * time.Millisecond)

	assert.True(t, f.media.Paused())
	assert.True(t, f.media.Muted(), "pending unmute was cancelled")
	f.card.CanPlay(context.Background())
	assert.False(t, f.card.Snapshot().Playing)
}

func TestPlayWithFallback(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		m := cardtest.NewMedia()
		fallback, err := PlayWithFallback(context.Background(), m)
		assert.NoError(t, err)
		assert.False(t, fallback)
		assert.Equal(t, []string{"play(muted=false)"}, m.Calls())
	})
	t.Run("rejected then muted", func(t *testing.T) {
		m := cardtest.NewMedia()
		m.RejectUnmuted(true)
		fallback, err := PlayWithFallback(context.Background(), m)
		assert.NoError(t, err)
		assert.True(t, fallback)
		assert.True(t, m.Muted())
	})
	t.Run("both fail", func(t *testing.T) {
		m := cardtest.NewMedia()
		m.Fail(errors.New("broken"))
		fallback, err := PlayWithFallback(context.Background(), m)
		assert.Error(t, err)
		assert.True(t, fallback)
	})
	t.Run("cancelled context skips retry", func(t *testing.T) {
		m := cardtest.NewMedia()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fallback, err := PlayWithFallback(ctx, m)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, fallback)
		assert.Len(t, m.Calls(), 1)
	})
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{-5, "0"},
		{999, "999"},
		{1000, "1.0K"},
		{1234, "1.2K"},
		{999_999, "1000.0K"},
		{3_400_000, "3.4M"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCount(tt.in), "FormatCount(%d)", tt.in)
	}
}
