package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemStore_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	d, err := s.Create(ctx, "posts", "", "", map[string]any{"content": "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ID == "" {
		t.Fatalf("expected generated id")
	}
	if _, err := s.Create(ctx, "posts", "", d.ID, map[string]any{}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.Get(ctx, "posts", d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body struct{ Content string }
	if err := got.DataTo(&body); err != nil || body.Content != "hi" {
		t.Fatalf("unexpected body=%+v err=%v", body, err)
	}

	if err := s.Delete(ctx, "posts", d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "posts", d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "posts", d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemStore_RejectsNonObjectData(t *testing.T) {
	s := NewMemStore()
	if _, err := s.Create(context.Background(), "posts", "", "", []string{"x"}); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestMemStore_SetMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if _, err := s.Set(ctx, "userSettings", "", "u1", map[string]any{"a": 1, "b": 2}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	d, err := s.Set(ctx, "userSettings", "", "u1", map[string]any{"b": 3}, true)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var merged map[string]float64
	_ = d.DataTo(&merged)
	if merged["a"] != 1 || merged["b"] != 3 {
		t.Fatalf("unexpected merge result: %v", merged)
	}

	d, err = s.Set(ctx, "userSettings", "", "u1", map[string]any{"c": 4}, false)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	var replaced map[string]float64
	_ = d.DataTo(&replaced)
	if _, ok := replaced["a"]; ok || replaced["c"] != 4 {
		t.Fatalf("unexpected replace result: %v", replaced)
	}
}

func TestMemStore_UpdateOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	d, _ := s.Create(ctx, "conversations", "", "c1", map[string]any{
		"unreadCount": map[string]any{"u1": 2},
		"tags":        []string{"a"},
		"tmp":         true,
	})

	d, err := s.Update(ctx, "conversations", d.ID,
		Increment("unreadCount.u1", 1),
		Increment("unreadCount.u2", 1),
		Set("lastMessage.text", "yo"),
		ArrayAppend("tags", "b"),
		DeleteField("tmp"),
	)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	var body struct {
		UnreadCount map[string]float64 `json:"unreadCount"`
		LastMessage struct {
			Text string `json:"text"`
		} `json:"lastMessage"`
		Tags []string `json:"tags"`
		Tmp  *bool    `json:"tmp"`
	}
	if err := d.DataTo(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UnreadCount["u1"] != 3 || body.UnreadCount["u2"] != 1 {
		t.Fatalf("unexpected counters: %v", body.UnreadCount)
	}
	if body.LastMessage.Text != "yo" {
		t.Fatalf("expected nested set, got %+v", body.LastMessage)
	}
	if len(body.Tags) != 2 || body.Tags[1] != "b" {
		t.Fatalf("unexpected tags: %v", body.Tags)
	}
	if body.Tmp != nil {
		t.Fatalf("expected tmp removed")
	}

	if _, err := s.Update(ctx, "conversations", "missing", Set("x", 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Update(ctx, "conversations", d.ID, Set("bad path", 1)); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestMemStore_ConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	d, _ := s.Create(ctx, "posts", "", "p1", map[string]any{"likes": 0})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, "posts", d.ID, Increment("likes", 1))
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "posts", d.ID)
	var body struct{ Likes int }
	_ = got.DataTo(&body)
	if body.Likes != 50 {
		t.Fatalf("expected 50 likes, got %d", body.Likes)
	}
}

func TestMemStore_QueryFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []map[string]any{
		{"userId": "u1", "price": 10, "tags": []string{"art"}, "createdAt": base.Add(1 * time.Hour)},
		{"userId": "u1", "price": 30, "tags": []string{"music", "art"}, "createdAt": base.Add(3 * time.Hour)},
		{"userId": "u2", "price": 20, "tags": []string{"art"}, "createdAt": base.Add(2 * time.Hour)},
		{"userId": "u1", "tags": []string{}, "createdAt": base.Add(4 * time.Hour)},
	}
	for _, b := range seed {
		if _, err := s.Create(ctx, "content", "", "", b); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	q := Query{Collection: "content"}.
		Where("userId", OpEq, "u1").
		Sort("createdAt", KindTime, true)
	docs, err := s.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	var first struct{ CreatedAt time.Time }
	_ = docs[0].DataTo(&first)
	if !first.CreatedAt.Equal(base.Add(4 * time.Hour)) {
		t.Fatalf("expected newest first, got %s", first.CreatedAt)
	}

	docs, _ = s.Query(ctx, Query{Collection: "content"}.Where("tags", OpArrayContains, "art").Where("price", OpGte, 20))
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs for art && price>=20, got %d", len(docs))
	}

	docs, _ = s.Query(ctx, Query{Collection: "content"}.Where("createdAt", OpLt, base.Add(150*time.Minute)))
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs before cutoff, got %d", len(docs))
	}

	// Missing sort field sorts last in both directions.
	docs, _ = s.Query(ctx, Query{Collection: "content", Limit: 4}.Sort("price", KindNumber, false))
	var last map[string]any
	_ = docs[3].DataTo(&last)
	if _, ok := last["price"]; ok {
		t.Fatalf("expected doc without price last, got %v", last)
	}

	docs, _ = s.Query(ctx, Query{Collection: "content", Limit: 1}.Sort("price", KindNumber, true))
	var top struct{ Price float64 }
	_ = docs[0].DataTo(&top)
	if len(docs) != 1 || top.Price != 30 {
		t.Fatalf("expected single top price 30, got %d docs price=%v", len(docs), top.Price)
	}
}

func TestMemStore_QueryParentScope(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_, _ = s.Create(ctx, "messages", "conversations/a", "", map[string]any{"text": "1"})
	_, _ = s.Create(ctx, "messages", "conversations/b", "", map[string]any{"text": "2"})

	docs, err := s.Query(ctx, Query{Collection: "messages", Parent: "conversations/a"})
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected 1 scoped doc, got %d err=%v", len(docs), err)
	}
}

func TestMemStore_FeedPublishesChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	var mu sync.Mutex
	var got []Change
	cancel := s.Subscribe(func(c Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	d, _ := s.Create(ctx, "posts", "", "", map[string]any{"likes": 0})
	_, _ = s.Update(ctx, "posts", d.ID, Increment("likes", 1))
	cancel()
	cancel()
	_ = s.Delete(ctx, "posts", d.ID)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 changes before cancel, got %d", len(got))
	}
	if got[0].Op != OpInsert || got[1].Op != OpUpdate || got[0].Collection != "posts" {
		t.Fatalf("unexpected changes: %+v", got)
	}
}

func TestQuery_ValidateAndKey(t *testing.T) {
	if err := (Query{}).Validate(); err == nil {
		t.Fatalf("expected error for missing collection")
	}
	if err := (Query{Collection: "x"}).Where("a;drop", OpEq, 1).Validate(); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if err := (Query{Collection: "x", Filters: []Filter{{Path: "a", Op: "~"}}}).Validate(); err == nil {
		t.Fatalf("expected error for unknown op")
	}

	a := Query{Collection: "posts"}.Where("userId", OpEq, "u1").Sort("createdAt", KindTime, true)
	b := Query{Collection: "posts"}.Where("userId", OpEq, "u1").Sort("createdAt", KindTime, true)
	c := Query{Collection: "posts"}.Where("userId", OpEq, "u2").Sort("createdAt", KindTime, true)
	if a.Key() != b.Key() {
		t.Fatalf("expected equal keys")
	}
	if a.Key() == c.Key() {
		t.Fatalf("expected different keys")
	}
}

func TestMemStore_UpdateWhereClaimsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	due := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	d, _ := s.Create(ctx, "scheduledPosts", "", "sp1", map[string]any{"status": "scheduled", "claimId": "", "scheduledAt": due})

	conds := []Filter{
		Where("status", OpEq, "scheduled"),
		Where("claimId", OpEq, ""),
		Where("scheduledAt", OpLte, due.Add(time.Minute)),
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateWhere(ctx, "scheduledPosts", d.ID, conds, Set("claimId", NewID()))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrPreconditionFailed) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins)
	}

	notDue := []Filter{Where("scheduledAt", OpLte, due.Add(-time.Minute))}
	if _, err := s.UpdateWhere(ctx, "scheduledPosts", d.ID, notDue, Set("x", 1)); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if _, err := s.UpdateWhere(ctx, "scheduledPosts", "missing", conds, Set("x", 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_NilEqualityMatchesAbsentOrNull(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Create(ctx, "content", "", "absent", map[string]any{"title": "a"})
	s.Create(ctx, "content", "", "null", map[string]any{"title": "b", "earned": nil})
	s.Create(ctx, "content", "", "set", map[string]any{"title": "c", "earned": "1.00"})

	docs, err := s.Query(ctx, Query{Collection: "content"}.Where("earned", OpEq, nil))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected absent and null docs, got %d", len(docs))
	}
	for _, d := range docs {
		if d.ID == "set" {
			t.Fatalf("doc with a value must not match nil equality")
		}
	}

	cond := []Filter{Where("earned", OpEq, nil)}
	if _, err := s.UpdateWhere(ctx, "content", "absent", cond, Set("earned", "4.99")); err != nil {
		t.Fatalf("update absent: %v", err)
	}
	if _, err := s.UpdateWhere(ctx, "content", "absent", cond, Set("earned", "9.98")); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed once earned is set, got %v", err)
	}
}
