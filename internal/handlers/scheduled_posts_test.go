package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PortNumber53/creator-studio/internal/middleware"
	"github.com/PortNumber53/creator-studio/internal/models"
)

func (e *testEnv) internal(t *testing.T, path, secret string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	if secret != "" {
		req.Header.Set(middleware.InternalSecretHeader, secret)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func seedScheduled(t *testing.T, env *testEnv, id, owner string, at time.Time) {
	t.Helper()
	env.seed(t, models.CollectionScheduledPosts, id, models.ScheduledPost{
		UserID: owner, Content: "post " + id, Platforms: []string{"x"},
		ScheduledAt: at, Status: models.ScheduledStatusScheduled, CreatedAt: testEpoch,
	})
}

func TestCreateScheduledPost(t *testing.T) {
	env := newTestEnv(t)
	future := testEpoch.Add(2 * time.Hour)

	rr := env.do(t, http.MethodPost, "/api/scheduled-posts/user/alice", "alice", map[string]any{
		"content": "launch day", "platforms": []string{"X", "instagram"}, "scheduledAt": future,
	})
	expectStatus(t, rr, http.StatusCreated)
	sp := decodeBody[models.ScheduledPost](t, rr)
	if sp.Status != models.ScheduledStatusScheduled || sp.ClaimID != "" || !sp.ScheduledAt.Equal(future) {
		t.Fatalf("unexpected scheduled post %+v", sp)
	}
	if len(sp.Platforms) != 2 || sp.Platforms[0] != "x" {
		t.Fatalf("expected normalized platforms, got %v", sp.Platforms)
	}

	cases := []struct {
		name string
		body map[string]any
	}{
		{"past", map[string]any{"content": "late", "platforms": []string{"x"}, "scheduledAt": testEpoch.Add(-time.Minute)}},
		{"no time", map[string]any{"content": "when", "platforms": []string{"x"}}},
		{"no platforms", map[string]any{"content": "where", "platforms": []string{}, "scheduledAt": future}},
		{"unknown platform", map[string]any{"content": "where", "platforms": []string{"myspace"}, "scheduledAt": future}},
		{"no content", map[string]any{"content": " ", "platforms": []string{"x"}, "scheduledAt": future}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			expectStatus(t, env.do(t, http.MethodPost, "/api/scheduled-posts/user/alice", "alice", c.body), http.StatusBadRequest)
		})
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/scheduled-posts/user/alice", "bob", map[string]any{
		"content": "x", "platforms": []string{"x"}, "scheduledAt": future,
	}), http.StatusForbidden)
}

func TestListAndDeleteScheduledPosts(t *testing.T) {
	env := newTestEnv(t)
	seedScheduled(t, env, "s2", "alice", testEpoch.Add(2*time.Hour))
	seedScheduled(t, env, "s1", "alice", testEpoch.Add(time.Hour))
	seedScheduled(t, env, "s3", "carol", testEpoch.Add(time.Hour))

	rr := env.do(t, http.MethodGet, "/api/scheduled-posts/user/alice", "alice", nil)
	expectStatus(t, rr, http.StatusOK)
	items := decodeBody[map[string][]models.ScheduledPost](t, rr)["items"]
	if len(items) != 2 || items[0].ID != "s1" || items[1].ID != "s2" {
		t.Fatalf("expected alice's posts soonest first, got %+v", items)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/scheduled-posts/user/alice?status=sent", "alice", nil), http.StatusBadRequest)

	env.seed(t, models.CollectionManagers, "m1", models.Manager{
		CreatorID: "alice", ManagerID: "bob", Name: "Bob", Status: models.ManagerStatusConnected,
		Specialties: []string{}, Permissions: models.ManagerPermissions{ManageSchedule: true},
	})
	expectStatus(t, env.do(t, http.MethodGet, "/api/scheduled-posts/user/alice", "bob", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/scheduled-posts/s3", "bob", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/scheduled-posts/s1", "bob", nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/scheduled-posts/s1", "alice", nil), http.StatusNotFound)
}

func TestClaimDue_RequiresInternalSecret(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.internal(t, "/api/scheduled-posts/claim-due", "", nil), http.StatusForbidden)
	expectStatus(t, env.internal(t, "/api/scheduled-posts/claim-due", "wrong", nil), http.StatusForbidden)

	empty := newTestEnv(t, func(d *Deps) { d.Config.InternalSecret = "" })
	expectStatus(t, empty.internal(t, "/api/scheduled-posts/claim-due", "", nil), http.StatusForbidden)
}

func TestClaimDue_ClaimsEachPostOnce(t *testing.T) {
	env := newTestEnv(t)
	seedScheduled(t, env, "due1", "alice", testEpoch.Add(-2*time.Hour))
	seedScheduled(t, env, "due2", "bob", testEpoch.Add(-time.Hour))
	seedScheduled(t, env, "later", "alice", testEpoch.Add(24*time.Hour))

	rr := env.internal(t, "/api/scheduled-posts/claim-due", testInternalSecret, nil)
	expectStatus(t, rr, http.StatusOK)
	first := decodeBody[claimResponse](t, rr)
	if first.ClaimID == "" || len(first.Items) != 2 || first.Items[0].ID != "due1" || first.Items[1].ID != "due2" {
		t.Fatalf("expected both due posts oldest first, got %+v", first)
	}
	for _, it := range first.Items {
		if it.ClaimID != first.ClaimID || it.ClaimedAt == nil {
			t.Fatalf("expected claim stamped on %+v", it)
		}
	}

	rr = env.internal(t, "/api/scheduled-posts/claim-due", testInternalSecret, nil)
	second := decodeBody[claimResponse](t, rr)
	if len(second.Items) != 0 {
		t.Fatalf("claimed posts must not be handed out again, got %+v", second.Items)
	}
}

func TestMarkPublished(t *testing.T) {
	env := newTestEnv(t)
	seedScheduled(t, env, "due1", "alice", testEpoch.Add(-time.Hour))
	claim := decodeBody[claimResponse](t, env.internal(t, "/api/scheduled-posts/claim-due", testInternalSecret, nil))
	if len(claim.Items) != 1 {
		t.Fatalf("expected one claimed post, got %+v", claim)
	}

	path := "/api/scheduled-posts/due1/published"
	expectStatus(t, env.internal(t, path, testInternalSecret, map[string]string{"claimId": ""}), http.StatusBadRequest)
	rr := env.internal(t, path, testInternalSecret, map[string]string{"claimId": "someone-else"})
	expectStatus(t, rr, http.StatusConflict)

	rr = env.internal(t, path, testInternalSecret, map[string]string{"claimId": claim.ClaimID})
	expectStatus(t, rr, http.StatusOK)
	sp := decodeBody[models.ScheduledPost](t, rr)
	if sp.Status != models.ScheduledStatusPublished || sp.PublishedAt == nil {
		t.Fatalf("expected published post, got %+v", sp)
	}

	rr = env.internal(t, path, testInternalSecret, map[string]string{"claimId": claim.ClaimID})
	expectStatus(t, rr, http.StatusOK)
	if again := decodeBody[models.ScheduledPost](t, rr); !again.PublishedAt.Equal(*sp.PublishedAt) {
		t.Fatalf("repeat must not restamp publishedAt")
	}
	expectStatus(t, env.internal(t, "/api/scheduled-posts/ghost/published", testInternalSecret, map[string]string{"claimId": "c"}), http.StatusNotFound)
}
