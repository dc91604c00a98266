package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection names in the document store.
const (
	CollectionProfiles            = "profiles"
	CollectionPosts               = "posts"
	CollectionContent             = "content"
	CollectionScheduledPosts      = "scheduledPosts"
	CollectionConversations       = "conversations"
	CollectionMessages            = "messages"
	CollectionManagers            = "managers"
	CollectionManagerInvitations  = "managerInvitations"
	CollectionManagerApplications = "managerApplications"
	CollectionAIGeneratedContent  = "aiGeneratedContent"
	CollectionUserSettings        = "userSettings"
)

const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationFailed   = "failed"
)

const (
	ContentTypeImage = "image"
	ContentTypeVideo = "video"
)

const (
	ContentStatusDraft     = "draft"
	ContentStatusPublished = "published"
	ContentStatusArchived  = "archived"
)

const (
	ScheduledStatusScheduled = "scheduled"
	ScheduledStatusPublished = "published"
)

const (
	ManagerStatusConnected = "connected"
	ManagerStatusPending   = "pending"
	ManagerStatusInactive  = "inactive"
)

// Invitation and application lifecycle.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestDeclined = "declined"
)

// Platforms a scheduled post may target.
var Platforms = []string{"instagram", "facebook", "x", "tiktok", "youtube", "pinterest", "threads", "linkedin"}

type Profile struct {
	UID                string           `json:"uid"`
	DisplayName        string           `json:"displayName"`
	Handle             string           `json:"handle,omitempty"`
	Email              string           `json:"email"`
	PhotoURL           string           `json:"photoURL,omitempty"`
	IsCreator          bool             `json:"isCreator"`
	Bio                string           `json:"bio,omitempty"`
	Categories         []string         `json:"categories"`
	VerificationStatus string           `json:"verificationStatus,omitempty"`
	ProfileComplete    bool             `json:"profileComplete"`
	SubscriberCount    *int64           `json:"subscriberCount,omitempty"`
	Rating             *float64         `json:"rating,omitempty"`
	SubscriptionPrice  *decimal.Decimal `json:"subscriptionPrice,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

type Comment struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorHandle string    `json:"authorHandle"`
	AuthorAvatar string    `json:"authorAvatar,omitempty"`
	Content      string    `json:"content"`
	Hashtags     []string  `json:"hashtags"`
	MediaURL     string    `json:"mediaUrl,omitempty"`
	Likes        int64     `json:"likes"`
	Comments     []Comment `json:"comments"`
	Reposts      int64     `json:"reposts"`
	Location     string    `json:"location,omitempty"`
	IsPinned     bool      `json:"isPinned"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewPost builds a feed entry with zeroed counters and hashtags scanned from content.
func NewPost(author Profile, content, location, mediaURL string, now time.Time) Post {
	return Post{
		AuthorID:     author.UID,
		AuthorName:   author.DisplayName,
		AuthorHandle: author.Handle,
		AuthorAvatar: author.PhotoURL,
		Content:      content,
		Hashtags:     ExtractHashtags(content),
		MediaURL:     mediaURL,
		Likes:        0,
		Comments:     []Comment{},
		Reposts:      0,
		Location:     location,
		IsPinned:     false,
		CreatedAt:    now.UTC(),
	}
}

// ContentItem is a creator's monetizable media asset. Counter pointers are nil
// when the value is unknown.
type ContentItem struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	Title        string           `json:"title"`
	URL          string           `json:"url"`
	AssetID      string           `json:"assetId"`
	ThumbnailURL string           `json:"thumbnailUrl,omitempty"`
	Type         string           `json:"type"`
	Format       string           `json:"format,omitempty"`
	Width        *int             `json:"width,omitempty"`
	Height       *int             `json:"height,omitempty"`
	Bytes        int64            `json:"bytes,omitempty"`
	Duration     *float64         `json:"duration,omitempty"`
	Price        decimal.Decimal  `json:"price"`
	Views        *int64           `json:"views,omitempty"`
	Likes        *int64           `json:"likes,omitempty"`
	Earned       *decimal.Decimal `json:"earned,omitempty"`
	Status       string           `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type ScheduledPost struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Content     string     `json:"content"`
	Platforms   []string   `json:"platforms"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	MediaURL    string     `json:"mediaUrl,omitempty"`
	Status      string     `json:"status"`
	ClaimID     string     `json:"claimId"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type Participant struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID              string                 `json:"id"`
	Participants    []string               `json:"participants"`
	ParticipantInfo map[string]Participant `json:"participantInfo"`
	UnreadCount     map[string]int64       `json:"unreadCount"`
	LastMessage     *LastMessage           `json:"lastMessage,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Other returns the participant that is not viewer.
func (c Conversation) Other(viewer string) string {
	for _, p := range c.Participants {
		if p != viewer {
			return p
		}
	}
	return ""
}

func (c Conversation) Has(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	SenderImage    string    `json:"senderImage,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ManagerPermissions struct {
	EditProfile    bool `json:"editProfile"`
	ManageContent  bool `json:"manageContent"`
	ManageMessages bool `json:"manageMessages"`
	ManageSchedule bool `json:"manageSchedule"`
	ViewAnalytics  bool `json:"viewAnalytics"`
}

type ManagerStats struct {
	ManagedCreators  *int64           `json:"managedCreators,omitempty"`
	RevenueGenerated *decimal.Decimal `json:"revenueGenerated,omitempty"`
	ResponseRate     *float64         `json:"responseRate,omitempty"`
}

type Manager struct {
	ID          string             `json:"id"`
	CreatorID   string             `json:"creatorId"`
	ManagerID   string             `json:"managerId,omitempty"`
	Name        string             `json:"name"`
	Email       string             `json:"email,omitempty"`
	Avatar      string             `json:"avatar,omitempty"`
	Status      string             `json:"status"`
	Specialties []string           `json:"specialties"`
	Permissions ManagerPermissions `json:"permissions"`
	Stats       *ManagerStats      `json:"stats,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type ManagerInvitation struct {
	ID           string             `json:"id"`
	CreatorID    string             `json:"creatorId"`
	ManagerEmail string             `json:"managerEmail"`
	ManagerName  string             `json:"managerName,omitempty"`
	Message      string             `json:"message,omitempty"`
	Permissions  ManagerPermissions `json:"permissions"`
	Status       string             `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
}

type ManagerApplication struct {
	ID            string    `json:"id"`
	CreatorID     string    `json:"creatorId"`
	ApplicantID   string    `json:"applicantId"`
	ApplicantName string    `json:"applicantName"`
	Message       string    `json:"message,omitempty"`
	Specialties   []string  `json:"specialties"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

type AIGeneratedContent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Prompt    string    `json:"prompt"`
	Tone      string    `json:"tone"`
	Platform  string    `json:"platform"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
