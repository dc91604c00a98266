package viewmodel

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/creator-studio/internal/models"
)

func i64(v int64) *int64 { return &v }

func TestCreatorCard_UnknownInsteadOfPlaceholders(t *testing.T) {
	c := CreatorCard(models.Profile{UID: "u1", DisplayName: "Ana"}, nil)
	if c.Rating != nil || c.RatingLabel != Unknown {
		t.Fatalf("expected unknown rating, got %v %q", c.Rating, c.RatingLabel)
	}
	if c.Price != nil || c.PriceLabel != Unknown {
		t.Fatalf("expected unknown price, got %v %q", c.Price, c.PriceLabel)
	}
	if c.Subscribers != nil || c.SubscribersLabel != Unknown || c.ContentCountLabel != Unknown {
		t.Fatalf("expected unknown counters, got %+v", c)
	}
	if c.Handle != Unknown || c.Categories == nil {
		t.Fatalf("unexpected defaults %+v", c)
	}
}

func TestCreatorCard_KnownValues(t *testing.T) {
	rating := 4.25
	price := decimal.RequireFromString("9.5")
	c := CreatorCard(models.Profile{
		UID:                "u1",
		Handle:             "ana",
		Rating:             &rating,
		SubscriberCount:    i64(12500),
		SubscriptionPrice:  &price,
		VerificationStatus: models.VerificationVerified,
	}, &Stats{ContentCount: i64(3)})
	if c.RatingLabel != "4.2" && c.RatingLabel != "4.3" {
		t.Fatalf("unexpected rating label %q", c.RatingLabel)
	}
	if c.SubscribersLabel != "12.5K" || c.PriceLabel != "$9.50" || *c.Price != "9.50" {
		t.Fatalf("unexpected labels %+v", c)
	}
	if !c.Verified || c.ContentCountLabel != "3" {
		t.Fatalf("unexpected %+v", c)
	}
}

func TestContentRow(t *testing.T) {
	d := 75.4
	row := ContentRow(models.ContentItem{
		ID: "c1", Title: "Clip", Type: models.ContentTypeVideo, Duration: &d,
		Price: decimal.NewFromInt(30), Views: i64(2_000_000),
	})
	if row.DurationLabel != "1:15" || row.PriceLabel != "$30.00" || row.ViewsLabel != "2M" {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.Likes != nil || row.LikesLabel != Unknown || row.Earned != nil || row.EarnedLabel != Unknown {
		t.Fatalf("expected unknown likes/earned, got %+v", row)
	}
	if row.CreatedAt != Unknown {
		t.Fatalf("expected unknown createdAt, got %q", row.CreatedAt)
	}

	img := ContentRow(models.ContentItem{Type: models.ContentTypeImage, URL: "https://x/a.jpg"})
	if img.ThumbnailURL != "https://x/a.jpg" || img.DurationLabel != Unknown {
		t.Fatalf("unexpected image row %+v", img)
	}
}

func TestConversationRow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := models.Conversation{
		ID:           "a_b",
		Participants: []string{"a", "b"},
		ParticipantInfo: map[string]models.Participant{
			"a": {Name: "Alice"},
			"b": {Name: "Bob", Image: "https://x/b.png"},
		},
		UnreadCount: map[string]int64{"a": 2, "b": 0},
		LastMessage: &models.LastMessage{Text: "hi", SenderID: "b", CreatedAt: now},
	}
	v := ConversationRow(c, "a")
	if v.OtherID != "b" || v.OtherName != "Bob" || v.Unread != 2 || v.LastMessage != "hi" || v.LastAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected view %+v", v)
	}
	v = ConversationRow(models.Conversation{ID: "x", Participants: []string{"a", "c"}}, "a")
	if v.OtherName != Unknown || v.LastAt != Unknown || v.Unread != 0 {
		t.Fatalf("unexpected empty view %+v", v)
	}
}

func TestManagerCard(t *testing.T) {
	rate := 97.0
	v := ManagerCard(models.Manager{ID: "m1", Name: "Max", Stats: &models.ManagerStats{ResponseRate: &rate}})
	if v.ResponseRateLabel != "97%" || v.RevenueLabel != Unknown || v.ManagedCreatorsLabel != Unknown {
		t.Fatalf("unexpected %+v", v)
	}
	if v.Specialties == nil {
		t.Fatalf("expected non-nil specialties")
	}
}

func TestPostCard(t *testing.T) {
	p := PostCard(models.Post{ID: "p1", Comments: []models.Comment{{ID: "c"}}, Likes: 3})
	if p.CommentCount != 1 || p.Likes != 3 || p.Hashtags == nil {
		t.Fatalf("unexpected %+v", p)
	}
}

func TestFilterContent(t *testing.T) {
	items := []models.ContentItem{
		{ID: "1", Title: "Beach Sunset", Type: "image", Status: "published"},
		{ID: "2", Title: "Workout", Type: "video", Status: "draft"},
		{ID: "3", Title: "sunset timelapse", Type: "video", Status: "published"},
	}
	got := FilterContent(items, ContentFilter{Type: "video", Search: "SUNSET"})
	if len(got) != 1 || got[0].ID != "3" {
		t.Fatalf("unexpected filter result %+v", got)
	}
	if got := FilterContent(items, ContentFilter{Type: "all", Status: "published"}); len(got) != 2 {
		t.Fatalf("expected 2 published, got %d", len(got))
	}
}

func TestSortContent_UnknownLastAndStable(t *testing.T) {
	items := []models.ContentItem{
		{ID: "a", Views: nil},
		{ID: "b", Views: i64(10)},
		{ID: "c", Views: nil},
		{ID: "d", Views: i64(50)},
		{ID: "e", Views: i64(10)},
	}
	SortContent(items, SortViews, true)
	want := []string{"d", "b", "e", "a", "c"}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("desc order got %v", ids(items))
		}
	}
	SortContent(items, SortViews, false)
	want = []string{"b", "e", "d", "a", "c"}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("asc order got %v", ids(items))
		}
	}
}

func TestSortContent_PriceAndFallbackKey(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []models.ContentItem{
		{ID: "x", Price: decimal.NewFromInt(5), CreatedAt: base.Add(2 * time.Hour)},
		{ID: "y", Price: decimal.RequireFromString("4.99"), CreatedAt: base},
	}
	SortContent(items, SortPrice, false)
	if items[0].ID != "y" {
		t.Fatalf("expected cheaper first, got %v", ids(items))
	}
	SortContent(items, "bogus", true)
	if items[0].ID != "x" {
		t.Fatalf("expected newest first on fallback, got %v", ids(items))
	}
}

func ids(items []models.ContentItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
