// Package viewmodel maps stored records to the shapes the creator studio
// screens render. Unknown values stay unknown: numeric fields are nil and
// the matching label is Unknown. Nothing here invents display numbers.
package viewmodel

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/creator-studio/internal/models"
)

// Unknown is the label rendered for a value the store does not have.
const Unknown = "—"

type Creator struct {
	UID               string   `json:"uid"`
	DisplayName       string   `json:"displayName"`
	Handle            string   `json:"handle"`
	PhotoURL          string   `json:"photoURL,omitempty"`
	Bio               string   `json:"bio"`
	Categories        []string `json:"categories"`
	Verified          bool     `json:"verified"`
	Rating            *float64 `json:"rating"`
	RatingLabel       string   `json:"ratingLabel"`
	Subscribers       *int64   `json:"subscribers"`
	SubscribersLabel  string   `json:"subscribersLabel"`
	Price             *string  `json:"price"`
	PriceLabel        string   `json:"priceLabel"`
	ContentCount      *int64   `json:"contentCount"`
	ContentCountLabel string   `json:"contentCountLabel"`
}

// Stats carries aggregates computed elsewhere. A nil *Stats means none are known.
type Stats struct {
	ContentCount *int64
}

func CreatorCard(p models.Profile, st *Stats) Creator {
	c := Creator{
		UID:              p.UID,
		DisplayName:      orUnknown(p.DisplayName),
		Handle:           orUnknown(p.Handle),
		PhotoURL:         p.PhotoURL,
		Bio:              p.Bio,
		Categories:       nonNil(p.Categories),
		Verified:         p.VerificationStatus == models.VerificationVerified,
		Rating:           p.Rating,
		RatingLabel:      Unknown,
		Subscribers:      p.SubscriberCount,
		SubscribersLabel: countLabel(p.SubscriberCount),
		PriceLabel:       Unknown,
	}
	if p.Rating != nil {
		c.RatingLabel = strconv.FormatFloat(*p.Rating, 'f', 1, 64)
	}
	if p.SubscriptionPrice != nil {
		s := p.SubscriptionPrice.StringFixed(2)
		c.Price = &s
		c.PriceLabel = moneyLabel(*p.SubscriptionPrice)
	}
	c.ContentCountLabel = Unknown
	if st != nil && st.ContentCount != nil {
		c.ContentCount = st.ContentCount
		c.ContentCountLabel = countLabel(st.ContentCount)
	}
	return c
}

type Content struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	ThumbnailURL  string   `json:"thumbnailUrl"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	Duration      *float64 `json:"duration"`
	DurationLabel string   `json:"durationLabel"`
	Price         string   `json:"price"`
	PriceLabel    string   `json:"priceLabel"`
	Views         *int64   `json:"views"`
	ViewsLabel    string   `json:"viewsLabel"`
	Likes         *int64   `json:"likes"`
	LikesLabel    string   `json:"likesLabel"`
	Earned        *string  `json:"earned"`
	EarnedLabel   string   `json:"earnedLabel"`
	CreatedAt     string   `json:"createdAt"`
}

func ContentRow(item models.ContentItem) Content {
	c := Content{
		ID:            item.ID,
		Title:         orUnknown(item.Title),
		URL:           item.URL,
		ThumbnailURL:  item.ThumbnailURL,
		Type:          item.Type,
		Status:        item.Status,
		Duration:      item.Duration,
		DurationLabel: durationLabel(item.Duration),
		Price:         item.Price.StringFixed(2),
		PriceLabel:    moneyLabel(item.Price),
		Views:         item.Views,
		ViewsLabel:    countLabel(item.Views),
		Likes:         item.Likes,
		LikesLabel:    countLabel(item.Likes),
		EarnedLabel:   Unknown,
		CreatedAt:     timeLabel(item.CreatedAt),
	}
	if item.ThumbnailURL == "" && item.Type == models.ContentTypeImage {
		c.ThumbnailURL = item.URL
	}
	if item.Earned != nil {
		s := item.Earned.StringFixed(2)
		c.Earned = &s
		c.EarnedLabel = moneyLabel(*item.Earned)
	}
	return c
}

type PostView struct {
	ID           string   `json:"id"`
	AuthorID     string   `json:"authorId"`
	AuthorName   string   `json:"authorName"`
	AuthorHandle string   `json:"authorHandle"`
	AuthorAvatar string   `json:"authorAvatar,omitempty"`
	Content      string   `json:"content"`
	Hashtags     []string `json:"hashtags"`
	MediaURL     string   `json:"mediaUrl,omitempty"`
	Likes        int64    `json:"likes"`
	CommentCount int      `json:"commentCount"`
	Reposts      int64    `json:"reposts"`
	Location     string   `json:"location,omitempty"`
	IsPinned     bool     `json:"isPinned"`
	CreatedAt    string   `json:"createdAt"`
}

func PostCard(p models.Post) PostView {
	return PostView{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		AuthorName:   orUnknown(p.AuthorName),
		AuthorHandle: orUnknown(p.AuthorHandle),
		AuthorAvatar: p.AuthorAvatar,
		Content:      p.Content,
		Hashtags:     nonNil(p.Hashtags),
		MediaURL:     p.MediaURL,
		Likes:        p.Likes,
		CommentCount: len(p.Comments),
		Reposts:      p.Reposts,
		Location:     p.Location,
		IsPinned:     p.IsPinned,
		CreatedAt:    timeLabel(p.CreatedAt),
	}
}

type ConversationView struct {
	ID          string `json:"id"`
	OtherID     string `json:"otherId"`
	OtherName   string `json:"otherName"`
	OtherImage  string `json:"otherImage,omitempty"`
	LastMessage string `json:"lastMessage"`
	LastAt      string `json:"lastAt"`
	Unread      int64  `json:"unread"`
}

// ConversationRow renders a conversation from viewer's side.
func ConversationRow(c models.Conversation, viewer string) ConversationView {
	other := c.Other(viewer)
	info := c.ParticipantInfo[other]
	v := ConversationView{
		ID:          c.ID,
		OtherID:     other,
		OtherName:   orUnknown(info.Name),
		OtherImage:  info.Image,
		LastMessage: "",
		LastAt:      Unknown,
		Unread:      c.UnreadCount[viewer],
	}
	if c.LastMessage != nil {
		v.LastMessage = c.LastMessage.Text
		v.LastAt = timeLabel(c.LastMessage.CreatedAt)
	}
	return v
}

type ManagerView struct {
	ID                   string                    `json:"id"`
	Name                 string                    `json:"name"`
	Email                string                    `json:"email,omitempty"`
	Avatar               string                    `json:"avatar,omitempty"`
	Status               string                    `json:"status"`
	Specialties          []string                  `json:"specialties"`
	Permissions          models.ManagerPermissions `json:"permissions"`
	ManagedCreatorsLabel string                    `json:"managedCreatorsLabel"`
	RevenueLabel         string                    `json:"revenueLabel"`
	ResponseRateLabel    string                    `json:"responseRateLabel"`
	ConnectedSince       string                    `json:"connectedSince"`
}

func ManagerCard(m models.Manager) ManagerView {
	v := ManagerView{
		ID:                   m.ID,
		Name:                 orUnknown(m.Name),
		Email:                m.Email,
		Avatar:               m.Avatar,
		Status:               m.Status,
		Specialties:          nonNil(m.Specialties),
		Permissions:          m.Permissions,
		ManagedCreatorsLabel: Unknown,
		RevenueLabel:         Unknown,
		ResponseRateLabel:    Unknown,
		ConnectedSince:       timeLabel(m.CreatedAt),
	}
	if m.Stats != nil {
		v.ManagedCreatorsLabel = countLabel(m.Stats.ManagedCreators)
		if m.Stats.RevenueGenerated != nil {
			v.RevenueLabel = moneyLabel(*m.Stats.RevenueGenerated)
		}
		if m.Stats.ResponseRate != nil {
			v.ResponseRateLabel = strconv.FormatFloat(*m.Stats.ResponseRate, 'f', 0, 64) + "%"
		}
	}
	return v
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func countLabel(n *int64) string {
	if n == nil {
		return Unknown
	}
	v := *n
	switch {
	case v >= 1_000_000:
		return trimZero(strconv.FormatFloat(float64(v)/1_000_000, 'f', 1, 64)) + "M"
	case v >= 1_000:
		return trimZero(strconv.FormatFloat(float64(v)/1_000, 'f', 1, 64)) + "K"
	}
	return strconv.FormatInt(v, 10)
}

func trimZero(s string) string { return strings.TrimSuffix(s, ".0") }

func moneyLabel(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

func durationLabel(d *float64) string {
	if d == nil || *d < 0 {
		return Unknown
	}
	total := int(*d + 0.5)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return strconv.Itoa(h) + ":" + pad2(m) + ":" + pad2(s)
	}
	return strconv.Itoa(m) + ":" + pad2(s)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func timeLabel(t time.Time) string {
	if t.IsZero() {
		return Unknown
	}
	return t.UTC().Format(time.RFC3339)
}
