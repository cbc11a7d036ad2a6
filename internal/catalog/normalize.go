package catalog

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// Categories is the fixed list used to back-fill records without a category.
var Categories = []string{
	"Technology",
	"Science",
	"Mathematics",
	"History",
	"Language",
	"Art",
	"Music",
	"Wellness",
	"Business",
	"Programming",
}

// BusinessCategories are the chips offered by the category filter.
var BusinessCategories = []string{
	"Marketing",
	"Entrepreneurship",
	"Finance",
	"Management",
	"Sales",
	"Leadership",
	"Productivity",
	"Startups",
	"E-commerce",
	"Business Strategy",
}

var sampleURLs = []string{
	"https://assets.mixkit.co/videos/preview/mixkit-young-woman-vlogger-recording-her-message-for-her-followers-4790-large.mp4",
	"https://assets.mixkit.co/videos/preview/mixkit-young-mother-with-her-little-daughter-decorating-a-christmas-tree-39745-large.mp4",
	"https://assets.mixkit.co/videos/preview/mixkit-mother-with-her-little-daughter-eating-a-marshmallow-in-nature-39764-large.mp4",
	"https://assets.mixkit.co/videos/preview/mixkit-girl-in-neon-sign-1232-large.mp4",
	"https://assets.mixkit.co/videos/preview/mixkit-winter-fashion-cold-looking-woman-concept-video-39874-large.mp4",
	"https://assets.mixkit.co/videos/preview/mixkit-womans-feet-splashing-in-the-pool-1261-large.mp4",
	"https://assets.mixkit.co/videos/preview/mixkit-a-girl-blowing-a-bubble-gum-at-an-amusement-park-1226-large.mp4",
}

var houseAuthor = Author{
	ID:       "milearning",
	Username: "milearning",
	Name:     "MiLearning",
	Avatar:   "https://api.dicebear.com/7.x/adventurer/svg?seed=milearning",
}

func normalize(v Video, position int, loadedAt time.Time) Video {
	v.ID = strings.TrimSpace(v.ID)
	if v.Category == "" {
		v.Category = CategoryFor(v.ID)
	}
	if v.URL == "" {
		v.URL = sampleURLs[position%len(sampleURLs)]
	}
	v.Author = backfillAuthor(v.Author)
	if v.CreatedAt.IsZero() {
		v.CreatedAt = loadedAt
	}
	return v
}

// CategoryFor maps an id onto Categories. Numeric ids use their value, anything else an FNV hash.
func CategoryFor(id string) string {
	if n, err := strconv.Atoi(id); err == nil {
		if n < 0 {
			n = -n
		}
		return Categories[n%len(Categories)]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return Categories[h.Sum32()%uint32(len(Categories))]
}

func backfillAuthor(a Author) Author {
	if a == (Author{}) {
		return houseAuthor
	}
	if a.Username == "" {
		a.Username = houseAuthor.Username
	}
	if a.Name == "" {
		a.Name = a.Username
	}
	if a.ID == "" {
		a.ID = a.Username
	}
	if a.Avatar == "" {
		a.Avatar = "https://api.dicebear.com/7.x/adventurer/svg?seed=" + a.Username
	}
	return a
}
