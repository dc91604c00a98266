package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/notify"
	"github.com/PortNumber53/creator-studio/internal/ratelimit"
	"github.com/PortNumber53/creator-studio/internal/viewmodel"
)

const maxMessageLength = 2000

func conversationsQuery(uid string) docstore.Query {
	return docstore.Query{Collection: models.CollectionConversations}.
		Where("participants", docstore.OpArrayContains, uid).
		Sort("updatedAt", docstore.KindTime, true)
}

func messagesParent(conversationID string) string {
	return models.CollectionConversations + "/" + conversationID
}

func messagesQuery(conversationID string, limit int) docstore.Query {
	return docstore.Query{Collection: models.CollectionMessages, Parent: messagesParent(conversationID), Limit: limit}.
		Sort("createdAt", docstore.KindTime, false)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	docs, err := h.store.Query(r.Context(), conversationsQuery(uid))
	if err != nil {
		h.writeStoreError(w, r, "conversations", err)
		return
	}
	convs := decodeAll(h, docs, models.DecodeConversation)
	items := make([]viewmodel.ConversationView, 0, len(convs))
	for _, c := range convs {
		items = append(items, viewmodel.ConversationRow(c, uid))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type openConversationRequest struct {
	OtherUserID string `json:"otherUserId"`
	OtherName   string `json:"otherName"`
	OtherImage  string `json:"otherImage"`
}

// OpenConversation returns the one conversation for the caller and another
// user, creating it on first contact. The id is derived from the pair so two
// users opening at once land on the same document.
func (h *Handler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return
	}
	var body openConversationRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	other := strings.TrimSpace(body.OtherUserID)
	if other == "" {
		badRequest(w, "otherUserId is required")
		return
	}
	if other == id.UID {
		badRequest(w, "cannot open a conversation with yourself")
		return
	}

	me, err := h.profileOrIdentity(r, id)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	now := h.now().UTC()
	conv := models.Conversation{
		Participants: []string{id.UID, other},
		ParticipantInfo: map[string]models.Participant{
			id.UID: {Name: me.DisplayName, Image: me.PhotoURL},
			other:  {Name: strings.TrimSpace(body.OtherName), Image: strings.TrimSpace(body.OtherImage)},
		},
		UnreadCount: map[string]int64{id.UID: 0, other: 0},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := conv.Validate(); err != nil {
		h.writeStoreError(w, r, "conversation", err)
		return
	}
	convID := models.ConversationID(id.UID, other)

	status := http.StatusCreated
	doc, err := h.store.Create(r.Context(), models.CollectionConversations, "", convID, conv)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		status = http.StatusOK
		doc, err = h.store.Get(r.Context(), models.CollectionConversations, convID)
	}
	if err != nil {
		h.writeStoreError(w, r, "conversation", err)
		return
	}
	c, err := models.DecodeConversation(doc)
	if err != nil {
		h.writeStoreError(w, r, "conversation", err)
		return
	}
	if !c.Has(id.UID) || !c.Has(other) {
		h.logger.Printf("[Conversations][Open] id_mismatch id=%s by=%s other=%s", convID, id.UID, other)
		writeError(w, http.StatusConflict, codeConflict, "conversation id belongs to another pair")
		return
	}
	if status == http.StatusCreated {
		h.logger.Printf("[Conversations][Open] id=%s by=%s", convID, id.UID)
	}
	writeJSON(w, status, viewmodel.ConversationRow(c, id.UID))
}

// loadConversation returns the conversation only when uid takes part in it.
// Outsiders get a 404 so ids cannot be guessed.
func (h *Handler) loadConversation(w http.ResponseWriter, r *http.Request, uid string) (models.Conversation, bool) {
	doc, err := h.store.Get(r.Context(), models.CollectionConversations, pathVar(r, "conversationId"))
	if err != nil {
		h.writeStoreError(w, r, "conversation", err)
		return models.Conversation{}, false
	}
	c, err := models.DecodeConversation(doc)
	if err != nil {
		h.writeStoreError(w, r, "conversation", err)
		return models.Conversation{}, false
	}
	if !c.Has(uid) {
		writeError(w, http.StatusNotFound, codeNotFound, "conversation not found")
		return models.Conversation{}, false
	}
	return c, true
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	c, ok := h.loadConversation(w, r, uid)
	if !ok {
		return
	}
	docs, err := h.store.Query(r.Context(), messagesQuery(c.ID, parseLimit(r, 200, 1, 500)))
	if err != nil {
		h.writeStoreError(w, r, "messages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": decodeAll(h, docs, models.DecodeMessage)})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage appends to the conversation, then bumps its summary and the
// other participant's unread counter.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return
	}
	if !h.allow(w, r, ratelimit.FeatureWrite, id.UID) {
		return
	}
	c, ok := h.loadConversation(w, r, id.UID)
	if !ok {
		return
	}
	var body sendMessageRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	text := strings.TrimSpace(body.Text)
	if len(text) > maxMessageLength {
		badRequest(w, "message is too long")
		return
	}
	info := c.ParticipantInfo[id.UID]
	now := h.now().UTC()
	msg := models.Message{
		ConversationID: c.ID,
		SenderID:       id.UID,
		SenderName:     info.Name,
		SenderImage:    info.Image,
		Text:           text,
		CreatedAt:      now,
	}
	if msg.SenderName == "" {
		msg.SenderName = displayNameFor(id)
	}
	if err := msg.Validate(); err != nil {
		h.writeStoreError(w, r, "message", err)
		return
	}
	doc, err := h.store.Create(r.Context(), models.CollectionMessages, messagesParent(c.ID), "", msg)
	if err != nil {
		h.writeStoreError(w, r, "message", err)
		return
	}
	msg.ID = doc.ID

	other := c.Other(id.UID)
	if _, err := h.store.Update(r.Context(), models.CollectionConversations, c.ID,
		docstore.Set("lastMessage", models.LastMessage{Text: text, SenderID: id.UID, CreatedAt: now}),
		docstore.Set("updatedAt", now),
		docstore.Increment(docstore.Path("unreadCount", other), 1),
	); err != nil {
		h.logger.Printf("[Conversations][Send] summary_failed id=%s err=%v", c.ID, err)
	}

	h.pushTo(r.Context(), other, func(s models.NotificationSettings) bool { return s.NewMessages }, notify.Notification{
		Title: msg.SenderName,
		Body:  truncate(text, 120),
		Data:  map[string]string{"type": "message", "conversationId": c.ID},
	})
	writeJSON(w, http.StatusCreated, msg)
}

// MarkConversationRead zeroes the caller's unread counter.
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	c, ok := h.loadConversation(w, r, uid)
	if !ok {
		return
	}
	doc, err := h.store.Update(r.Context(), models.CollectionConversations, c.ID, docstore.Set(docstore.Path("unreadCount", uid), 0))
	if err != nil {
		h.writeStoreError(w, r, "conversation", err)
		return
	}
	updated, err := models.DecodeConversation(doc)
	if err != nil {
		h.writeStoreError(w, r, "conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, viewmodel.ConversationRow(updated, uid))
}
