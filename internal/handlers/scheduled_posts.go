package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/ratelimit"
)

// Scheduled posts only record intent. An external publisher claims due posts
// through the internal endpoints below and reports them published.

func scheduledQuery(userID, status string) docstore.Query {
	q := docstore.Query{Collection: models.CollectionScheduledPosts}.
		Where("userId", docstore.OpEq, userID).
		Sort("scheduledAt", docstore.KindTime, false)
	if status != "" {
		q = q.Where("status", docstore.OpEq, status)
	}
	return q
}

func (h *Handler) ListScheduledPosts(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if _, ok := h.requireActsFor(w, r, userID, permManageSchedule); !ok {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && status != models.ScheduledStatusScheduled && status != models.ScheduledStatusPublished {
		badRequest(w, "status must be scheduled or published")
		return
	}
	docs, err := h.store.Query(r.Context(), scheduledQuery(userID, status))
	if err != nil {
		h.writeStoreError(w, r, "scheduled posts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": decodeAll(h, docs, models.DecodeScheduledPost)})
}

type createScheduledRequest struct {
	Content     string    `json:"content"`
	Platforms   []string  `json:"platforms"`
	ScheduledAt time.Time `json:"scheduledAt"`
	MediaURL    string    `json:"mediaUrl"`
}

func (h *Handler) CreateScheduledPost(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	actor, ok := h.requireActsFor(w, r, userID, permManageSchedule)
	if !ok || !h.allow(w, r, ratelimit.FeatureWrite, actor) {
		return
	}
	var body createScheduledRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	now := h.now().UTC()
	if !body.ScheduledAt.IsZero() && !body.ScheduledAt.After(now) {
		badRequest(w, "scheduledAt must be in the future")
		return
	}
	sp := models.ScheduledPost{
		UserID:      userID,
		Content:     strings.TrimSpace(body.Content),
		Platforms:   cleanTags(body.Platforms),
		ScheduledAt: body.ScheduledAt.UTC(),
		MediaURL:    strings.TrimSpace(body.MediaURL),
		Status:      models.ScheduledStatusScheduled,
		ClaimID:     "",
		CreatedAt:   now,
	}
	if len(sp.Content) > maxPostLength {
		badRequest(w, "post is too long")
		return
	}
	if err := sp.Validate(); err != nil {
		h.writeStoreError(w, r, "scheduled post", err)
		return
	}
	doc, err := h.store.Create(r.Context(), models.CollectionScheduledPosts, "", "", sp)
	if err != nil {
		h.writeStoreError(w, r, "scheduled post", err)
		return
	}
	sp.ID = doc.ID
	h.logger.Printf("[ScheduledPosts][Create] id=%s user=%s actor=%s at=%s platforms=%v", sp.ID, userID, actor, sp.ScheduledAt.Format(time.RFC3339), sp.Platforms)
	writeJSON(w, http.StatusCreated, sp)
}

func (h *Handler) DeleteScheduledPost(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	doc, err := h.store.Get(r.Context(), models.CollectionScheduledPosts, id)
	if err != nil {
		h.writeStoreError(w, r, "scheduled post", err)
		return
	}
	sp, err := models.DecodeScheduledPost(doc)
	if err != nil {
		h.writeStoreError(w, r, "scheduled post", err)
		return
	}
	actor, ok := h.requireActsFor(w, r, sp.UserID, permManageSchedule)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), models.CollectionScheduledPosts, id); err != nil {
		h.writeStoreError(w, r, "scheduled post", err)
		return
	}
	h.logger.Printf("[ScheduledPosts][Delete] id=%s actor=%s", id, actor)
	w.WriteHeader(http.StatusNoContent)
}

type claimResponse struct {
	ClaimID string                 `json:"claimId"`
	Items   []models.ScheduledPost `json:"items"`
}

// ClaimDueScheduledPosts hands due, unclaimed posts to the external publisher.
// Each post is claimed with a conditional update, so concurrent publishers
// never receive the same post.
func (h *Handler) ClaimDueScheduledPosts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 25, 1, 100)
	now := h.now().UTC()
	q := docstore.Query{Collection: models.CollectionScheduledPosts, Limit: limit}.
		Where("status", docstore.OpEq, models.ScheduledStatusScheduled).
		Where("claimId", docstore.OpEq, "").
		Where("scheduledAt", docstore.OpLte, now).
		Sort("scheduledAt", docstore.KindTime, false)
	docs, err := h.store.Query(r.Context(), q)
	if err != nil {
		h.writeStoreError(w, r, "scheduled posts", err)
		return
	}

	claimID := uuid.NewString()
	conds := []docstore.Filter{
		docstore.Where("status", docstore.OpEq, models.ScheduledStatusScheduled),
		docstore.Where("claimId", docstore.OpEq, ""),
	}
	out := claimResponse{ClaimID: claimID, Items: make([]models.ScheduledPost, 0, len(docs))}
	for _, d := range docs {
		doc, err := h.store.UpdateWhere(r.Context(), models.CollectionScheduledPosts, d.ID, conds,
			docstore.Set("claimId", claimID),
			docstore.Set("claimedAt", now),
		)
		if errors.Is(err, docstore.ErrPreconditionFailed) || errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			h.logger.Printf("[ScheduledPosts][Claim] update_failed id=%s err=%v", d.ID, err)
			continue
		}
		sp, err := models.DecodeScheduledPost(doc)
		if err != nil {
			h.logger.Printf("[ScheduledPosts][Claim] decode_failed id=%s err=%v", d.ID, err)
			continue
		}
		out.Items = append(out.Items, sp)
	}
	h.metrics.Claimed(len(out.Items))
	h.logger.Printf("[ScheduledPosts][Claim] claimId=%s due=%d claimed=%d", claimID, len(docs), len(out.Items))
	writeJSON(w, http.StatusOK, out)
}

type publishedRequest struct {
	ClaimID string `json:"claimId"`
}

// MarkScheduledPostPublished completes a claim. Repeating the call for an
// already published post returns it unchanged.
func (h *Handler) MarkScheduledPostPublished(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	var body publishedRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(body.ClaimID) == "" {
		badRequest(w, "claimId is required")
		return
	}
	conds := []docstore.Filter{
		docstore.Where("status", docstore.OpEq, models.ScheduledStatusScheduled),
		docstore.Where("claimId", docstore.OpEq, body.ClaimID),
	}
	doc, err := h.store.UpdateWhere(r.Context(), models.CollectionScheduledPosts, id, conds,
		docstore.Set("status", models.ScheduledStatusPublished),
		docstore.Set("publishedAt", h.now().UTC()),
	)
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		cur, getErr := h.store.Get(r.Context(), models.CollectionScheduledPosts, id)
		if getErr != nil {
			h.writeStoreError(w, r, "scheduled post", getErr)
			return
		}
		sp, decErr := models.DecodeScheduledPost(cur)
		if decErr == nil && sp.Status == models.ScheduledStatusPublished && sp.ClaimID == body.ClaimID {
			writeJSON(w, http.StatusOK, sp)
			return
		}
		writeError(w, http.StatusConflict, codeConflict, "claim is no longer held")
		return
	}
	if err != nil {
		h.writeStoreError(w, r, "scheduled post", err)
		return
	}
	sp, err := models.DecodeScheduledPost(doc)
	if err != nil {
		h.writeStoreError(w, r, "scheduled post", err)
		return
	}
	h.logger.Printf("[ScheduledPosts][Published] id=%s claimId=%s", id, body.ClaimID)
	writeJSON(w, http.StatusOK, sp)
}
