// Package device classifies clients from their User-Agent header.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

type Class string

const (
	Unknown Class = "unknown"
	Desktop Class = "desktop"
	Mobile  Class = "mobile"
	Tablet  Class = "tablet"
	Bot     Class = "bot"
)

// Touch reports whether the client navigates the feed by swiping.
func (c Class) Touch() bool {
	return c == Mobile || c == Tablet
}

type Info struct {
	Class   Class  `json:"class"`
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
}

func Parse(userAgent string) Info {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Info{Class: Unknown}
	}

	ua := useragent.New(userAgent)
	name, _ := ua.Browser()
	info := Info{Browser: name, OS: ua.OS()}

	switch {
	case ua.Bot():
		info.Class = Bot
	case isTablet(ua, userAgent):
		info.Class = Tablet
	case ua.Mobile():
		info.Class = Mobile
	default:
		info.Class = Desktop
	}
	return info
}

func isTablet(ua *useragent.UserAgent, raw string) bool {
	if ua.Platform() == "iPad" {
		return true
	}
	return strings.Contains(raw, "Android") && !strings.Contains(raw, "Mobile")
}
