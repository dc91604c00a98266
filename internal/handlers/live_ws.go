package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/livequery"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/viewmodel"
)

// Live views a client can stream.
const (
	viewFeed          = "feed"
	viewCreators      = "creators"
	viewContent       = "content"
	viewScheduled     = "scheduled"
	viewConversations = "conversations"
	viewMessages      = "messages"
)

type liveEvent struct {
	Type  string `json:"type"`
	View  string `json:"view,omitempty"`
	ID    string `json:"id,omitempty"`
	Items any    `json:"items,omitempty"`
	Error string `json:"error,omitempty"`
	At    string `json:"at"`
}

// liveSubscriber opens the hub subscription for one socket. emit receives
// mapped items or the error that ended the watch.
type liveSubscriber func(emit func(items any, err error)) (*livequery.Subscription, error)

func subscribeView[T, V any](hub *livequery.Hub, q docstore.Query, decode func(docstore.Document) (T, error), view func(T) V) liveSubscriber {
	return func(emit func(items any, err error)) (*livequery.Subscription, error) {
		return livequery.SubscribeTyped(hub, q, decode, func(items []T, err error) {
			if err != nil {
				emit(nil, err)
				return
			}
			out := make([]V, 0, len(items))
			for _, it := range items {
				out = append(out, view(it))
			}
			emit(out, nil)
		})
	}
}

func same[T any](v T) T { return v }

// resolveLiveView scopes the requested view to what uid may read. It writes
// the HTTP error itself, before any upgrade, when the view is refused.
func (h *Handler) resolveLiveView(w http.ResponseWriter, r *http.Request, uid, view, id string) (liveSubscriber, bool) {
	ctx := r.Context()
	switch view {
	case viewFeed:
		return subscribeView(h.hub, feedQuery(id, "", 50), models.DecodePost, viewmodel.PostCard), true

	case viewCreators:
		category := strings.TrimSpace(r.URL.Query().Get("category"))
		return subscribeView(h.hub, creatorsQuery(category, 100), models.DecodeProfile,
			func(p models.Profile) viewmodel.Creator { return viewmodel.CreatorCard(p, nil) }), true

	case viewContent:
		if id == "" {
			id = uid
		}
		owner, err := h.actsFor(ctx, uid, id, permManageContent)
		if err != nil {
			h.writeStoreError(w, r, "manager relation", err)
			return nil, false
		}
		analytics, err := h.actsFor(ctx, uid, id, permViewAnalytics)
		if err != nil {
			h.writeStoreError(w, r, "manager relation", err)
			return nil, false
		}
		return subscribeView(h.hub, contentQuery(id, !owner), models.DecodeContentItem, contentRowFor(analytics)), true

	case viewScheduled:
		if id == "" {
			id = uid
		}
		allowed, err := h.actsFor(ctx, uid, id, permManageSchedule)
		if err != nil {
			h.writeStoreError(w, r, "manager relation", err)
			return nil, false
		}
		if !allowed {
			forbidden(w, "not allowed to act for this creator")
			return nil, false
		}
		return subscribeView(h.hub, scheduledQuery(id, ""), models.DecodeScheduledPost, same[models.ScheduledPost]), true

	case viewConversations:
		return subscribeView(h.hub, conversationsQuery(uid), models.DecodeConversation,
			func(c models.Conversation) viewmodel.ConversationView { return viewmodel.ConversationRow(c, uid) }), true

	case viewMessages:
		if id == "" {
			badRequest(w, "id is required for the messages view")
			return nil, false
		}
		doc, err := h.store.Get(ctx, models.CollectionConversations, id)
		if err != nil {
			h.writeStoreError(w, r, "conversation", err)
			return nil, false
		}
		c, err := models.DecodeConversation(doc)
		if err != nil {
			h.writeStoreError(w, r, "conversation", err)
			return nil, false
		}
		if !c.Has(uid) {
			writeError(w, http.StatusNotFound, codeNotFound, "conversation not found")
			return nil, false
		}
		return subscribeView(h.hub, messagesQuery(c.ID, 200), models.DecodeMessage, same[models.Message]), true
	}
	badRequest(w, "view must be one of feed, creators, content, scheduled, conversations, messages")
	return nil, false
}

// LiveWebSocket streams a live query. Each change to the underlying data
// pushes a full snapshot; a failed watch pushes one error event and closes the
// socket. The hub subscription is released exactly once when the socket ends.
//
// URL: /api/live/ws?view=...&id=...
func (h *Handler) LiveWebSocket(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	qs := r.URL.Query()
	view := strings.TrimSpace(qs.Get("view"))
	id := strings.TrimSpace(qs.Get("id"))
	subscribe, ok := h.resolveLiveView(w, r, uid, view, id)
	if !ok {
		return
	}

	wsServer := websocket.Server{
		// Tokens authenticate the socket, so any origin may connect.
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			return nil
		},
		Handler: func(c *websocket.Conn) {
			h.logger.Printf("[LiveWS] connect user=%s view=%s id=%s remote=%s", uid, view, id, r.RemoteAddr)
			defer h.logger.Printf("[LiveWS] disconnect user=%s view=%s", uid, view)

			var wmu sync.Mutex
			send := func(ev liveEvent) error {
				wmu.Lock()
				defer wmu.Unlock()
				_ = c.SetWriteDeadline(time.Now().Add(h.wsWriteWait))
				return websocket.JSON.Send(c, ev)
			}
			stamp := func() string { return h.now().UTC().Format(time.RFC3339Nano) }

			if err := send(liveEvent{Type: "hello", View: view, ID: id, At: stamp()}); err != nil {
				return
			}

			// Only the newest snapshot matters, so a slow socket drops stale ones.
			events := make(chan liveEvent, 1)
			done := make(chan struct{})
			var doneOnce sync.Once
			closeDone := func() { doneOnce.Do(func() { close(done) }) }

			push := func(ev liveEvent) {
				for {
					select {
					case events <- ev:
						return
					default:
					}
					select {
					case <-events:
					default:
					}
				}
			}

			sub, err := subscribe(func(items any, err error) {
				if err != nil {
					push(liveEvent{Type: "error", View: view, ID: id, Error: "live query failed", At: stamp()})
					h.logger.Printf("[LiveWS] watch_error user=%s view=%s err=%v", uid, view, err)
					return
				}
				push(liveEvent{Type: "snapshot", View: view, ID: id, Items: items, At: stamp()})
			})
			if err != nil {
				h.logger.Printf("[LiveWS] subscribe_failed user=%s view=%s err=%v", uid, view, err)
				_ = send(liveEvent{Type: "error", View: view, ID: id, Error: "could not subscribe", At: stamp()})
				return
			}
			defer sub.Unsubscribe()

			go func() {
				for {
					select {
					case <-done:
						return
					case ev := <-events:
						if err := send(ev); err != nil || ev.Type == "error" {
							closeDone()
							_ = c.Close()
							return
						}
					}
				}
			}()

			// Read loop to keep the connection open and detect disconnects.
			for {
				var ignored string
				if err := websocket.Message.Receive(c, &ignored); err != nil {
					closeDone()
					break
				}
			}
		},
	}
	wsServer.ServeHTTP(w, r)
}
