// Package view names the screen a feed or card is mounted on.
package view

import "fmt"

type Mode int

const (
	Feed Mode = iota
	Grid
	Search
	Saved
)

var names = [...]string{"feed", "grid", "search", "saved"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(names) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return names[m]
}

// Autoplays reports whether navigating within this mode starts playback.
func (m Mode) Autoplays() bool { return m == Feed }

func Parse(s string) (Mode, error) {
	for i, n := range names {
		if n == s {
			return Mode(i), nil
		}
	}
	return Feed, fmt.Errorf("unknown view mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
