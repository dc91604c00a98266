package viewmodel

import (
	"sort"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/models"
)

// ContentFilter narrows the content library table. Empty fields match everything.
type ContentFilter struct {
	Type   string
	Status string
	Search string
}

func FilterContent(items []models.ContentItem, f ContentFilter) []models.ContentItem {
	q := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]models.ContentItem, 0, len(items))
	for _, it := range items {
		if f.Type != "" && f.Type != "all" && it.Type != f.Type {
			continue
		}
		if f.Status != "" && f.Status != "all" && it.Status != f.Status {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(it.Title), q) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Sort keys accepted by SortContent.
const (
	SortCreatedAt = "createdAt"
	SortTitle     = "title"
	SortPrice     = "price"
	SortViews     = "views"
	SortLikes     = "likes"
	SortEarned    = "earned"
)

func ValidSortKey(key string) bool {
	switch key {
	case SortCreatedAt, SortTitle, SortPrice, SortViews, SortLikes, SortEarned:
		return true
	}
	return false
}

// SortContent sorts in place, stable. Items with an unknown counter always
// sort after known ones regardless of direction. An unrecognized key falls
// back to createdAt.
func SortContent(items []models.ContentItem, key string, desc bool) {
	if !ValidSortKey(key) {
		key = SortCreatedAt
	}
	sort.SliceStable(items, func(i, j int) bool {
		c, known := compareContent(items[i], items[j], key)
		switch known {
		case 1:
			return true
		case -1:
			return false
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareContent returns the ordering of a and b on key and which side is
// known: 1 when only a has the value, -1 when only b has it, 0 when both or neither.
func compareContent(a, b models.ContentItem, key string) (int, int) {
	switch key {
	case SortTitle:
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)), 0
	case SortPrice:
		return a.Price.Cmp(b.Price), 0
	case SortViews:
		return comparePtr(a.Views, b.Views)
	case SortLikes:
		return comparePtr(a.Likes, b.Likes)
	case SortEarned:
		switch {
		case a.Earned == nil && b.Earned == nil:
			return 0, 0
		case a.Earned == nil:
			return 0, -1
		case b.Earned == nil:
			return 0, 1
		}
		return a.Earned.Cmp(*b.Earned), 0
	}
	return a.CreatedAt.Compare(b.CreatedAt), 0
}

func comparePtr(a, b *int64) (int, int) {
	switch {
	case a == nil && b == nil:
		return 0, 0
	case a == nil:
		return 0, -1
	case b == nil:
		return 0, 1
	case *a < *b:
		return -1, 0
	case *a > *b:
		return 1, 0
	}
	return 0, 0
}
