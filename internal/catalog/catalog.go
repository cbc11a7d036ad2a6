package catalog

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"time"
)

var ErrDuplicateID = errors.New("duplicate video id")

type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

type Video struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	URL          string    `json:"url"`
	Category     string    `json:"category"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Duration     int       `json:"duration,omitempty"`
	Likes        int       `json:"likes"`
	Views        int       `json:"views"`
	Author       Author    `json:"author"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Catalog is an immutable, ordered set of normalized videos.
type Catalog struct {
	videos []Video
	index  map[string]int
}

type Option func(*options)

type options struct {
	now         func() time.Time
	newestFirst bool
}

// WithNow sets the timestamp used for records without a creation time.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewestFirst orders the catalog by creation time, most recent first.
func NewestFirst() Option {
	return func(o *options) { o.newestFirst = true }
}

func New(records []Video, opts ...Option) (*Catalog, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	loadedAt := o.now().UTC()
	videos := make([]Video, len(records))
	for i, rec := range records {
		videos[i] = normalize(rec, i, loadedAt)
	}

	if o.newestFirst {
		sort.SliceStable(videos, func(i, j int) bool {
			return videos[i].CreatedAt.After(videos[j].CreatedAt)
		})
	}

	index := make(map[string]int, len(videos))
	for i, v := range videos {
		if v.ID == "" {
			return nil, fmt.Errorf("video at position %d has no id", i)
		}
		if _, exists := index[v.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, v.ID)
		}
		index[v.ID] = i
	}

	return &Catalog{videos: videos, index: index}, nil
}

func (c *Catalog) Len() int {
	return len(c.videos)
}

// All returns a copy of every video in catalog order.
func (c *Catalog) All() []Video {
	return slices.Clone(c.videos)
}

func (c *Catalog) ByID(id string) (Video, bool) {
	i, ok := c.index[id]
	if !ok {
		return Video{}, false
	}
	return c.videos[i], true
}

// ByIDs returns the videos whose ids are listed, in catalog order. Unknown ids are skipped.
func (c *Catalog) ByIDs(ids []string) []Video {
	if len(ids) == 0 {
		return []Video{}
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]Video, 0, len(ids))
	for _, v := range c.videos {
		if _, ok := wanted[v.ID]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (c *Catalog) ByCategory(category string) []Video {
	out := make([]Video, 0)
	for _, v := range c.videos {
		if v.Category == category {
			out = append(out, v)
		}
	}
	return out
}

// Random samples up to n distinct videos. A nil rng uses the package source.
func (c *Catalog) Random(n int, rng *rand.Rand) []Video {
	if n <= 0 {
		return []Video{}
	}
	if n > len(c.videos) {
		n = len(c.videos)
	}

	var perm []int
	if rng != nil {
		perm = rng.Perm(len(c.videos))
	} else {
		perm = rand.Perm(len(c.videos))
	}

	out := make([]Video, 0, n)
	for _, i := range perm[:n] {
		out = append(out, c.videos[i])
	}
	return out
}

// Categories lists the distinct categories in order of first appearance.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, v := range c.videos {
		if _, ok := seen[v.Category]; ok {
			continue
		}
		seen[v.Category] = struct{}{}
		out = append(out, v.Category)
	}
	return out
}
