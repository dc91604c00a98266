package handlers

import (
	"encoding/json"
	"net/http"
	"reflect"
	"testing"

	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/viewmodel"
)

func TestCreatePost_HashtagsAndZeroCounters(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/posts", "alice", map[string]string{"content": "Hello #world #test"})
	expectStatus(t, rr, http.StatusCreated)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["comments"]) != "[]" {
		t.Fatalf("expected empty comments array, got %s", raw["comments"])
	}
	p := decodeBody[models.Post](t, rr)
	if !reflect.DeepEqual(p.Hashtags, []string{"#world", "#test"}) {
		t.Fatalf("unexpected hashtags %v", p.Hashtags)
	}
	if p.Likes != 0 || p.Reposts != 0 || p.IsPinned || len(p.Comments) != 0 {
		t.Fatalf("expected zeroed counters, got %+v", p)
	}
	if p.AuthorID != "alice" || p.AuthorName != "User alice" {
		t.Fatalf("expected author from identity, got %q %q", p.AuthorID, p.AuthorName)
	}
	if p.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestCreatePost_UsesProfile(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, models.CollectionProfiles, "alice", models.Profile{UID: "alice", DisplayName: "Alice A", Handle: "alice", Categories: []string{}})
	rr := env.do(t, http.MethodPost, "/api/posts", "alice", map[string]string{"content": "hi", "location": " Lisbon "})
	expectStatus(t, rr, http.StatusCreated)
	p := decodeBody[models.Post](t, rr)
	if p.AuthorName != "Alice A" || p.AuthorHandle != "alice" || p.Location != "Lisbon" {
		t.Fatalf("unexpected author fields %+v", p)
	}
}

func TestCreatePost_Validation(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodPost, "/api/posts", "alice", map[string]string{"content": "   "}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/posts", "alice", `{"content":"x","bogus":true}`), http.StatusBadRequest)
	rr := env.do(t, http.MethodPost, "/api/posts", "alice", map[string]string{"mediaUrl": "https://cdn.example/a.jpg"})
	expectStatus(t, rr, http.StatusCreated)
}

func TestListPosts_NewestFirstAndHashtagFilter(t *testing.T) {
	env := newTestEnv(t)
	for _, c := range []string{"first #go", "second", "third #go"} {
		expectStatus(t, env.do(t, http.MethodPost, "/api/posts", "alice", map[string]string{"content": c}), http.StatusCreated)
	}
	rr := env.do(t, http.MethodGet, "/api/posts", "bob", nil)
	expectStatus(t, rr, http.StatusOK)
	items := decodeBody[map[string][]viewmodel.PostView](t, rr)["items"]
	if len(items) != 3 || items[0].Content != "third #go" || items[2].Content != "first #go" {
		t.Fatalf("expected newest first, got %+v", items)
	}

	rr = env.do(t, http.MethodGet, "/api/posts?hashtag=go", "bob", nil)
	items = decodeBody[map[string][]viewmodel.PostView](t, rr)["items"]
	if len(items) != 2 {
		t.Fatalf("expected two #go posts, got %d", len(items))
	}
}

func createPost(t *testing.T, env *testEnv, uid, content string) models.Post {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/api/posts", uid, map[string]string{"content": content})
	expectStatus(t, rr, http.StatusCreated)
	return decodeBody[models.Post](t, rr)
}

func TestLikeUnlike_NeverBelowZero(t *testing.T) {
	env := newTestEnv(t)
	p := createPost(t, env, "alice", "like me")

	rr := env.do(t, http.MethodPost, "/api/posts/"+p.ID+"/like", "bob", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[models.Post](t, rr).Likes; got != 1 {
		t.Fatalf("expected 1 like, got %d", got)
	}
	for i := 0; i < 2; i++ {
		rr = env.do(t, http.MethodDelete, "/api/posts/"+p.ID+"/like", "bob", nil)
		expectStatus(t, rr, http.StatusOK)
	}
	if got := decodeBody[models.Post](t, rr).Likes; got != 0 {
		t.Fatalf("expected likes to floor at 0, got %d", got)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/posts/nope/like", "bob", nil), http.StatusNotFound)
}

func TestRepostAndComment(t *testing.T) {
	env := newTestEnv(t)
	p := createPost(t, env, "alice", "share me")

	rr := env.do(t, http.MethodPost, "/api/posts/"+p.ID+"/repost", "bob", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[models.Post](t, rr).Reposts; got != 1 {
		t.Fatalf("expected 1 repost, got %d", got)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/posts/"+p.ID+"/comments", "bob", map[string]string{"text": " "}), http.StatusBadRequest)
	rr = env.do(t, http.MethodPost, "/api/posts/"+p.ID+"/comments", "bob", map[string]string{"text": "nice"})
	expectStatus(t, rr, http.StatusOK)
	got := decodeBody[models.Post](t, rr)
	if len(got.Comments) != 1 || got.Comments[0].Text != "nice" || got.Comments[0].AuthorID != "bob" || got.Comments[0].ID == "" {
		t.Fatalf("unexpected comments %+v", got.Comments)
	}
}

func TestTogglePin_AuthorOnly(t *testing.T) {
	env := newTestEnv(t)
	p := createPost(t, env, "alice", "pin me")

	expectStatus(t, env.do(t, http.MethodPost, "/api/posts/"+p.ID+"/pin", "bob", nil), http.StatusForbidden)

	rr := env.do(t, http.MethodPost, "/api/posts/"+p.ID+"/pin", "alice", nil)
	expectStatus(t, rr, http.StatusOK)
	if !decodeBody[models.Post](t, rr).IsPinned {
		t.Fatalf("expected pinned")
	}
	rr = env.do(t, http.MethodPost, "/api/posts/"+p.ID+"/pin", "alice", nil)
	if decodeBody[models.Post](t, rr).IsPinned {
		t.Fatalf("expected unpinned after second toggle")
	}
}
