// Package videostate is the single source of truth for one session's view of
// the catalog: saved and liked ids, playback progress and the search filter.
package videostate

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/milearning/milearning/internal/catalog"
)

const (
	DefaultThrottle     = time.Second
	CompletionThreshold = 0.95
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Progress is the last recorded playback position of one video.
type Progress struct {
	LastPosition float64 `json:"lastPosition"`
	Timestamp    string  `json:"timestamp"`
	Completed    bool    `json:"completed"`
}

// Listener is told about accepted mutations after the state lock is released.
type Listener interface {
	SavedChanged(saved []string, videoID string, on bool)
	LikedChanged(liked []string, videoID string, on bool)
	ProgressRecorded(videoID string, p Progress)
}

type State struct {
	catalog   *catalog.Catalog
	clock     clockwork.Clock
	throttle  time.Duration
	perVideo  bool
	listeners []Listener

	mu           sync.Mutex
	videos       []catalog.Video
	saved        []string
	liked        []string
	progress     map[string]Progress
	watched      []string
	query        string
	category     string
	filtered     []catalog.Video
	stale        bool
	lastAccepted time.Time
	accepted     bool
	lastByVideo  map[string]time.Time
}

type Option func(*State)

func WithClock(c clockwork.Clock) Option {
	return func(s *State) { s.clock = c }
}

// WithThrottle sets the minimum interval between accepted progress updates.
func WithThrottle(d time.Duration) Option {
	return func(s *State) { s.throttle = d }
}

// WithPerVideoThrottle applies the throttle to each video separately instead of
// to all videos together.
func WithPerVideoThrottle() Option {
	return func(s *State) { s.perVideo = true }
}

func WithListener(l Listener) Option {
	return func(s *State) { s.listeners = append(s.listeners, l) }
}

func New(c *catalog.Catalog, opts ...Option) *State {
	s := &State{
		catalog:     c,
		clock:       clockwork.NewRealClock(),
		throttle:    DefaultThrottle,
		videos:      c.All(),
		saved:       []string{},
		liked:       []string{},
		progress:    make(map[string]Progress),
		watched:     []string{},
		lastByVideo: make(map[string]time.Time),
		stale:       true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ToggleSave adds id to the saved list when absent and removes it otherwise.
// It reports whether id is saved afterwards.
func (s *State) ToggleSave(id string) bool {
	s.mu.Lock()
	var on bool
	s.saved, on = toggle(s.saved, id)
	snapshot := slices.Clone(s.saved)
	s.mu.Unlock()

	for _, l := range s.listeners {
		l.SavedChanged(snapshot, id, on)
	}
	return on
}

func (s *State) ToggleLike(id string) bool {
	s.mu.Lock()
	var on bool
	s.liked, on = toggle(s.liked, id)
	snapshot := slices.Clone(s.liked)
	s.mu.Unlock()

	for _, l := range s.listeners {
		l.LikedChanged(snapshot, id, on)
	}
	return on
}

func toggle(ids []string, id string) ([]string, bool) {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(slices.Clone(ids), i, i+1), false
	}
	return append(slices.Clone(ids), id), true
}

// UpdateProgress records fraction as the last position of id unless an update
// was accepted within the throttle interval. The fraction is clamped to [0,1];
// NaN is dropped. It reports whether the update was recorded.
func (s *State) UpdateProgress(id string, fraction float64) bool {
	if math.IsNaN(fraction) {
		return false
	}
	fraction = min(max(fraction, 0), 1)

	s.mu.Lock()
	now := s.clock.Now()
	if s.throttled(id, now) {
		s.mu.Unlock()
		return false
	}
	s.lastAccepted, s.accepted = now, true
	s.lastByVideo[id] = now

	p := Progress{
		LastPosition: fraction,
		Timestamp:    now.UTC().Format(timestampLayout),
		Completed:    fraction >= CompletionThreshold,
	}
	s.progress[id] = p
	if !slices.Contains(s.watched, id) {
		s.watched = append(s.watched, id)
	}
	s.mu.Unlock()

	for _, l := range s.listeners {
		l.ProgressRecorded(id, p)
	}
	return true
}

func (s *State) throttled(id string, now time.Time) bool {
	if s.perVideo {
		last, ok := s.lastByVideo[id]
		return ok && now.Sub(last) < s.throttle
	}
	return s.accepted && now.Sub(s.lastAccepted) < s.throttle
}

func (s *State) SetSearchQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.query != q {
		s.query = q
		s.stale = true
	}
}

// SetSelectedCategory selects a single category; the empty string selects none.
func (s *State) SetSelectedCategory(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.category != category {
		s.category = category
		s.stale = true
	}
}

// FilteredVideos holds the catalog records matching the current query and
// category, in catalog order. The result is cached until an input changes.
func (s *State) FilteredVideos() []catalog.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale {
		s.filtered = filter(s.videos, s.query, s.category)
		s.stale = false
	}
	return slices.Clone(s.filtered)
}

func filter(videos []catalog.Video, query, category string) []catalog.Video {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]catalog.Video, 0, len(videos))
	for _, v := range videos {
		if category != "" && v.Category != category {
			continue
		}
		if q != "" && !matches(v, q) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func matches(v catalog.Video, lowered string) bool {
	return strings.Contains(strings.ToLower(v.Title), lowered) ||
		strings.Contains(strings.ToLower(v.Description), lowered) ||
		strings.Contains(strings.ToLower(v.Author.Name), lowered)
}

// ResetForUser replaces the saved and liked lists with the given user's lists.
// nil lists mean logged out. Progress and filters are left untouched.
func (s *State) ResetForUser(saved, liked []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = dedupe(saved)
	s.liked = dedupe(liked)
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *State) Catalog() *catalog.Catalog { return s.catalog }

func (s *State) Videos() []catalog.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.videos)
}

func (s *State) Saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.saved)
}

func (s *State) Liked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.liked)
}

func (s *State) Watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.watched)
}

func (s *State) Progress(id string) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[id]
	return p, ok
}

func (s *State) ProgressMap() map[string]Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Progress, len(s.progress))
	for id, p := range s.progress {
		out[id] = p
	}
	return out
}

func (s *State) IsSaved(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.saved, id)
}

func (s *State) IsLiked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.liked, id)
}

func (s *State) SearchQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

func (s *State) SelectedCategory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.category
}

func (s *State) IsCategoryActive(category string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return category != "" && s.category == category
}

// SavedVideos returns the catalog records of the saved ids in catalog order.
func (s *State) SavedVideos() []catalog.Video {
	return s.catalog.ByIDs(s.Saved())
}

// OverallProgress is the mean last position over videos, counting unwatched
// videos as zero. It is zero for an empty list.
func (s *State) OverallProgress(videos []catalog.Video) float64 {
	if len(videos) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, v := range videos {
		sum += s.progress[v.ID].LastPosition
	}
	return sum / float64(len(videos))
}
