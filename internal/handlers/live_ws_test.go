package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/PortNumber53/creator-studio/internal/viewmodel"
)

type liveFrame struct {
	Type  string          `json:"type"`
	View  string          `json:"view"`
	Items json.RawMessage `json:"items"`
	Error string          `json:"error"`
}

func dialLive(t *testing.T, srv *httptest.Server, uid, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live/ws?" + query
	cfg, err := websocket.NewConfig(url, srv.URL)
	if err != nil {
		t.Fatalf("ws config: %v", err)
	}
	cfg.Header.Set("X-Test-User", uid)
	ws, err := websocket.DialConfig(cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) liveFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f liveFrame
	if err := websocket.JSON.Receive(ws, &f); err != nil {
		t.Fatalf("receive: %v", err)
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLiveWebSocket_FeedSnapshotsAndTeardown(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ws := dialLive(t, srv, "bob", "view=feed")
	if f := readFrame(t, ws); f.Type != "hello" || f.View != viewFeed {
		t.Fatalf("expected hello frame, got %+v", f)
	}
	if f := readFrame(t, ws); f.Type != "snapshot" {
		t.Fatalf("expected initial snapshot, got %+v", f)
	}
	waitFor(t, "one watch", func() bool { return env.h.hub.WatchCount() == 1 })

	createPost(t, env, "alice", "live #now")

	var posts []viewmodel.PostView
	for len(posts) == 0 {
		f := readFrame(t, ws)
		if f.Type != "snapshot" {
			t.Fatalf("unexpected frame %+v", f)
		}
		posts = nil
		if len(f.Items) > 0 {
			if err := json.Unmarshal(f.Items, &posts); err != nil {
				t.Fatalf("decode items: %v", err)
			}
		}
	}
	if posts[0].Content != "live #now" || posts[0].AuthorID != "alice" {
		t.Fatalf("unexpected snapshot %+v", posts)
	}

	_ = ws.Close()
	waitFor(t, "watch released", func() bool { return env.h.hub.WatchCount() == 0 })
}

func TestLiveWebSocket_RefusedBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t)
	c := openConversation(t, env, "alice", "bob")

	cases := []struct {
		name   string
		uid    string
		query  string
		status int
	}{
		{"anonymous", "", "view=feed", http.StatusUnauthorized},
		{"unknown view", "alice", "view=everything", http.StatusBadRequest},
		{"messages without id", "alice", "view=messages", http.StatusBadRequest},
		{"messages outsider", "mallory", "view=messages&id=" + c.ID, http.StatusNotFound},
		{"scheduled for someone else", "mallory", "view=scheduled&id=alice", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, env.do(t, http.MethodGet, "/api/live/ws?"+tc.query, tc.uid, nil), tc.status)
		})
	}
}
