package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed seed/videos.json
var seedFS embed.FS

// Load builds the catalog from the embedded seed data, newest first.
func Load(opts ...Option) (*Catalog, error) {
	data, err := seedFS.ReadFile("seed/videos.json")
	if err != nil {
		return nil, fmt.Errorf("read seed videos: %w", err)
	}
	var records []Video
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode seed videos: %w", err)
	}
	return New(records, append([]Option{NewestFirst()}, opts...)...)
}
