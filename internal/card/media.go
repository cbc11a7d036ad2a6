package card

import (
	"context"
	"fmt"
)

// Media is the platform playback element bound to one card.
type Media interface {
	// Play may be rejected by the platform's autoplay policy.
	Play(ctx context.Context) error
	Pause()
	SetMuted(muted bool)
	Muted() bool
	Paused() bool
	CurrentTime() float64
	Duration() float64
}

// Playable is the part of Media needed to start playback.
type Playable interface {
	Play(ctx context.Context) error
	SetMuted(muted bool)
}

// PlayWithFallback asks p to play and, when the request is rejected, mutes p
// and asks once more. mutedFallback reports whether the second attempt ran.
func PlayWithFallback(ctx context.Context, p Playable) (mutedFallback bool, err error) {
	first := p.Play(ctx)
	if first == nil {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("play: %w", first)
	}

	p.SetMuted(true)
	if err := p.Play(ctx); err != nil {
		return true, fmt.Errorf("play muted after %v: %w", first, err)
	}
	return true, nil
}
