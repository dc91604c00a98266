// Command seed fills a document store with fake creators, fans and their
// activity for local development.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
)

func main() {
	_ = godotenv.Load()
	sum, err := run(context.Background(), os.Args[1:], defaultDeps())
	if err != nil {
		log.Fatalf("[Seed] %v", err)
	}
	fmt.Println(sum)
}

type deps struct {
	getenv    func(string) string
	openDB    func(driverName, dataSourceName string) (*sql.DB, error)
	openStore func(db *sql.DB) docstore.Store
	now       func() time.Time
}

func defaultDeps() deps {
	return deps{
		getenv:    os.Getenv,
		openDB:    sql.Open,
		openStore: func(db *sql.DB) docstore.Store { return docstore.NewPGStore(db) },
		now:       time.Now,
	}
}

type options struct {
	creators int
	fans     int
	posts    int
	seed     int64
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	var o options
	fs.IntVar(&o.creators, "creators", 5, "creator profiles to create")
	fs.IntVar(&o.fans, "fans", 10, "fan profiles to create")
	fs.IntVar(&o.posts, "posts", 3, "feed posts per creator")
	fs.Int64Var(&o.seed, "seed", 0, "random seed (0 = time based)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.creators < 1 || o.fans < 0 || o.posts < 0 {
		return options{}, errors.New("-creators must be >= 1, -fans and -posts >= 0")
	}
	return o, nil
}

// summary counts what was written.
type summary struct {
	Profiles, Posts, Content, Scheduled, Conversations, Messages int
}

func (s summary) String() string {
	return fmt.Sprintf("seeded profiles=%d posts=%d content=%d scheduled=%d conversations=%d messages=%d",
		s.Profiles, s.Posts, s.Content, s.Scheduled, s.Conversations, s.Messages)
}

func run(ctx context.Context, args []string, d deps) (summary, error) {
	o, err := parseArgs(args)
	if err != nil {
		return summary{}, err
	}
	if d.getenv == nil || d.openDB == nil || d.openStore == nil {
		return summary{}, errors.New("getenv, openDB and openStore dependencies are required")
	}
	dsn := strings.TrimSpace(d.getenv("DATABASE_URL"))
	if dsn == "" {
		return summary{}, errors.New("DATABASE_URL is required")
	}
	db, err := d.openDB("postgres", dsn)
	if err != nil {
		return summary{}, fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	seed := o.seed
	if seed == 0 {
		seed = now().UnixNano()
	}
	s := &seeder{store: d.openStore(db), fake: gofakeit.New(seed), now: now().UTC()}
	return s.seed(ctx, o)
}

var categories = []string{"ART", "MUSIC", "FITNESS", "COOKING", "GAMING", "EDUCATION"}

type seeder struct {
	store docstore.Store
	fake  *gofakeit.Faker
	now   time.Time
	sum   summary
	tick  int
}

// at hands out strictly increasing timestamps in the recent past.
func (s *seeder) at() time.Time {
	s.tick++
	return s.now.Add(-48 * time.Hour).Add(time.Duration(s.tick) * time.Minute)
}

func (s *seeder) seed(ctx context.Context, o options) (summary, error) {
	var creators, fans []models.Profile
	for i := 0; i < o.creators; i++ {
		p, err := s.profile(ctx, true)
		if err != nil {
			return s.sum, err
		}
		creators = append(creators, p)
	}
	for i := 0; i < o.fans; i++ {
		p, err := s.profile(ctx, false)
		if err != nil {
			return s.sum, err
		}
		fans = append(fans, p)
	}
	for _, c := range creators {
		for i := 0; i < o.posts; i++ {
			if err := s.post(ctx, c); err != nil {
				return s.sum, err
			}
		}
		if err := s.content(ctx, c); err != nil {
			return s.sum, err
		}
		if err := s.scheduled(ctx, c); err != nil {
			return s.sum, err
		}
	}
	for i, f := range fans {
		if err := s.conversation(ctx, f, creators[i%len(creators)]); err != nil {
			return s.sum, err
		}
	}
	return s.sum, nil
}

func (s *seeder) profile(ctx context.Context, creator bool) (models.Profile, error) {
	name := s.fake.Name()
	handle := strings.ToLower(s.fake.Username())
	p := models.Profile{
		UID:             "seed-" + s.fake.UUID(),
		DisplayName:     name,
		Handle:          handle,
		Email:           strings.ToLower(s.fake.Email()),
		PhotoURL:        s.fake.ImageURL(128, 128),
		IsCreator:       creator,
		Categories:      []string{},
		ProfileComplete: creator,
		CreatedAt:       s.at(),
	}
	p.UpdatedAt = p.CreatedAt
	if creator {
		p.Bio = s.fake.Sentence(12)
		p.Categories = []string{s.fake.RandomString(categories)}
		p.VerificationStatus = models.VerificationPending
		subs := int64(s.fake.Number(0, 50000))
		p.SubscriberCount = &subs
		price := decimal.NewFromFloat(s.fake.Price(1, 25)).Round(2)
		p.SubscriptionPrice = &price
	}
	if _, err := s.store.Create(ctx, models.CollectionProfiles, "", p.UID, p); err != nil {
		return p, fmt.Errorf("profile %s: %w", p.UID, err)
	}
	s.sum.Profiles++
	return p, nil
}

func (s *seeder) post(ctx context.Context, author models.Profile) error {
	text := fmt.Sprintf("%s #%s #%s", s.fake.Sentence(8), strings.ToLower(s.fake.Word()), strings.ToLower(author.Categories[0]))
	p := models.NewPost(author, text, s.fake.City(), "", s.at())
	p.Likes = int64(s.fake.Number(0, 500))
	if _, err := s.store.Create(ctx, models.CollectionPosts, "", "", p); err != nil {
		return fmt.Errorf("post: %w", err)
	}
	s.sum.Posts++
	return nil
}

func (s *seeder) content(ctx context.Context, owner models.Profile) error {
	w, h := 1280, 720
	views := int64(s.fake.Number(0, 10000))
	item := models.ContentItem{
		UserID:       owner.UID,
		Title:        strings.TrimSuffix(s.fake.Sentence(4), "."),
		URL:          s.fake.ImageURL(w, h),
		AssetID:      "seed/" + s.fake.UUID(),
		ThumbnailURL: s.fake.ImageURL(320, 180),
		Type:         models.ContentTypeImage,
		Format:       "jpg",
		Width:        &w,
		Height:       &h,
		Bytes:        int64(s.fake.Number(50_000, 5_000_000)),
		Price:        decimal.NewFromFloat(s.fake.Price(0, 20)).Round(2),
		Views:        &views,
		Status:       models.ContentStatusPublished,
		CreatedAt:    s.at(),
	}
	if _, err := s.store.Create(ctx, models.CollectionContent, "", "", item); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	s.sum.Content++
	return nil
}

func (s *seeder) scheduled(ctx context.Context, owner models.Profile) error {
	sp := models.ScheduledPost{
		UserID:      owner.UID,
		Content:     s.fake.Sentence(10),
		Platforms:   []string{s.fake.RandomString(models.Platforms)},
		ScheduledAt: s.now.Add(time.Duration(s.fake.Number(1, 72)) * time.Hour),
		Status:      models.ScheduledStatusScheduled,
		CreatedAt:   s.at(),
	}
	if _, err := s.store.Create(ctx, models.CollectionScheduledPosts, "", "", sp); err != nil {
		return fmt.Errorf("scheduled post: %w", err)
	}
	s.sum.Scheduled++
	return nil
}

func (s *seeder) conversation(ctx context.Context, fan, creator models.Profile) error {
	id := models.ConversationID(fan.UID, creator.UID)
	created := s.at()
	conv := models.Conversation{
		Participants: []string{fan.UID, creator.UID},
		ParticipantInfo: map[string]models.Participant{
			fan.UID:     {Name: fan.DisplayName, Image: fan.PhotoURL},
			creator.UID: {Name: creator.DisplayName, Image: creator.PhotoURL},
		},
		UnreadCount: map[string]int64{fan.UID: 0, creator.UID: 0},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	parent := models.CollectionConversations + "/" + id
	var last *models.LastMessage
	senders := []models.Profile{fan, creator}
	for i := 0; i < 2; i++ {
		from := senders[i%2]
		msg := models.Message{
			ConversationID: id,
			SenderID:       from.UID,
			SenderName:     from.DisplayName,
			SenderImage:    from.PhotoURL,
			Text:           s.fake.Sentence(6),
			CreatedAt:      s.at(),
		}
		if _, err := s.store.Create(ctx, models.CollectionMessages, parent, "", msg); err != nil {
			return fmt.Errorf("message: %w", err)
		}
		s.sum.Messages++
		last = &models.LastMessage{Text: msg.Text, SenderID: msg.SenderID, CreatedAt: msg.CreatedAt}
	}
	conv.LastMessage = last
	conv.UnreadCount[fan.UID] = 1
	conv.UpdatedAt = last.CreatedAt
	if _, err := s.store.Create(ctx, models.CollectionConversations, "", id, conv); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("conversation %s: %w", id, err)
	}
	s.sum.Conversations++
	return nil
}
