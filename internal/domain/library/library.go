// Package library defines the Vault Digital catalogue the player can
// queue for download.
// This package is PURE and must NOT import any infrastructure packages.
package library

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category groups items in the library sidebar.
type Category string

const (
	CategoryMovies Category = "movies"
	CategoryMusic  Category = "music"
	CategoryBooks  Category = "books"
	CategoryFiles  Category = "files"
)

// Categories lists the sidebar order.
var Categories = []Category{CategoryMovies, CategoryMusic, CategoryBooks, CategoryFiles}

// SortKey selects the library ordering.
type SortKey string

const (
	SortByPurchaseDate SortKey = "date"
	SortBySize         SortKey = "size"
	SortByLastAccessed SortKey = "lastAccessed"
)

// Item is one purchased "license" in the catalogue.
type Item struct {
	ID           string   `json:"id" yaml:"id"`
	Category     Category `json:"type" yaml:"type"`
	Title        string   `json:"title" yaml:"title"`
	Creator      string   `json:"creator" yaml:"creator"`
	PurchaseDate string   `json:"purchase_date" yaml:"purchase_date"` // YYYY-MM-DD
	LastAccessed string   `json:"last_accessed" yaml:"last_accessed"` // YYYY-MM-DD
	SizeGB       float64  `json:"size_gb" yaml:"size_gb"`
	Icon         string   `json:"icon" yaml:"icon"`
	Notes        string   `json:"notes" yaml:"notes"`
}

// Catalogue is the read-only set of library items.
type Catalogue struct {
	items []Item
	byID  map[string]int
}

type document struct {
	Items []Item `yaml:"items"`
}

//go:embed catalogue.yaml
var defaultCatalogue []byte

// Default returns the shipped catalogue.
func Default() (*Catalogue, error) {
	return Parse(defaultCatalogue)
}

// LoadFile reads a catalogue from disk; an empty path selects the default.
func LoadFile(path string) (*Catalogue, error) {
	if path == "" {
		return Default()
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read library: %w", err)
	}
	return Parse(content)
}

// Parse decodes a catalogue document and checks item ids and sizes.
func Parse(content []byte) (*Catalogue, error) {
	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse library: %w", err)
	}
	c := &Catalogue{byID: make(map[string]int, len(doc.Items))}
	for i, it := range doc.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("library item %d is missing id", i)
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("duplicate library item id %q", it.ID)
		}
		if it.SizeGB <= 0 {
			return nil, fmt.Errorf("library item %q: size_gb must be positive", it.ID)
		}
		c.byID[it.ID] = len(c.items)
		c.items = append(c.items, it)
	}
	return c, nil
}

// All returns a copy of every item in catalogue order.
func (c *Catalogue) All() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// ByID looks up an item.
func (c *Catalogue) ByID(id string) (Item, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	return c.items[idx], true
}

// Len is the number of items in the catalogue.
func (c *Catalogue) Len() int {
	return len(c.items)
}

// TotalSizeGB sums every item size.
func (c *Catalogue) TotalSizeGB() float64 {
	var total float64
	for _, it := range c.items {
		total += it.SizeGB
	}
	return total
}

// Browse filters by category (empty = all) and orders the result, newest
// or largest first.
func (c *Catalogue) Browse(category Category, by SortKey) []Item {
	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		if category == "" || it.Category == category {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		switch by {
		case SortBySize:
			return out[i].SizeGB > out[j].SizeGB
		case SortByLastAccessed:
			return out[i].LastAccessed > out[j].LastAccessed
		case SortByPurchaseDate:
			return out[i].PurchaseDate > out[j].PurchaseDate
		default:
			return false
		}
	})
	return out
}
