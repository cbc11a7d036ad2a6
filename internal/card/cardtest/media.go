// Package cardtest provides an in-memory Media for exercising cards and feeds.
package cardtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAutoplayBlocked is returned by Play when the media is unmuted and the
// autoplay policy is enforced.
var ErrAutoplayBlocked = errors.New("autoplay with sound blocked")

type Media struct {
	mu            sync.Mutex
	muted         bool
	paused        bool
	rejectUnmuted bool
	failure       error
	currentTime   float64
	duration      float64
	calls         []string
}

func NewMedia() *Media {
	return &Media{paused: true}
}

// RejectUnmuted makes Play fail while the media is unmuted.
func (m *Media) RejectUnmuted(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectUnmuted = reject
}

// Fail makes every Play return err; nil restores normal playback.
func (m *Media) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *Media) SetTime(current, duration float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime, m.duration = current, duration
}

func (m *Media) Play(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("play(muted=%t)", m.muted))
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failure != nil {
		return m.failure
	}
	if m.rejectUnmuted && !m.muted {
		return ErrAutoplayBlocked
	}
	m.paused = false
	return nil
}

func (m *Media) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "pause")
	m.paused = true
}

func (m *Media) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if muted {
		m.calls = append(m.calls, "mute")
	} else {
		m.calls = append(m.calls, "unmute")
	}
	m.muted = muted
}

func (m *Media) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Media) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Media) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *Media) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// Calls returns the control calls received so far, oldest first.
func (m *Media) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *Media) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
