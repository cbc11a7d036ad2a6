// Package filter holds the category chip and search box behavior that sits in
// front of the video state.
package filter

import "github.com/milearning/milearning/internal/catalog"

// Target is the state the filter controls mutate. *videostate.State satisfies it.
type Target interface {
	SetSearchQuery(q string)
	SetSelectedCategory(category string)
	SelectedCategory() string
}

// CategoryFilter is the row of category chips. Selecting the active chip clears it.
type CategoryFilter struct {
	target     Target
	categories []string
}

func NewCategoryFilter(target Target, categories []string) *CategoryFilter {
	if categories == nil {
		categories = catalog.BusinessCategories
	}
	return &CategoryFilter{target: target, categories: categories}
}

func (f *CategoryFilter) Categories() []string {
	return append([]string(nil), f.categories...)
}

// Select toggles category and returns the selection afterwards ("" for none).
func (f *CategoryFilter) Select(category string) string {
	if category == "" || f.target.SelectedCategory() == category {
		f.target.SetSelectedCategory("")
		return ""
	}
	f.target.SetSelectedCategory(category)
	return category
}

func (f *CategoryFilter) Clear() {
	f.target.SetSelectedCategory("")
}

type SearchBox struct {
	target Target
	text   string
}

func NewSearchBox(target Target) *SearchBox {
	return &SearchBox{target: target}
}

// Input receives the full text of the box after each keystroke.
func (b *SearchBox) Input(text string) {
	b.text = text
	b.target.SetSearchQuery(text)
}

func (b *SearchBox) Text() string { return b.text }

func (b *SearchBox) Clear() { b.Input("") }
