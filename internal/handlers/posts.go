package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/ratelimit"
	"github.com/PortNumber53/creator-studio/internal/viewmodel"
)

const maxPostLength = 5000

func feedQuery(author, hashtag string, limit int) docstore.Query {
	q := docstore.Query{Collection: models.CollectionPosts, Limit: limit}.
		Sort("createdAt", docstore.KindTime, true)
	if author != "" {
		q = q.Where("authorId", docstore.OpEq, author)
	}
	if hashtag != "" {
		if !strings.HasPrefix(hashtag, "#") {
			hashtag = "#" + hashtag
		}
		q = q.Where("hashtags", docstore.OpArrayContains, hashtag)
	}
	return q
}

// ListPosts returns the feed newest first, optionally narrowed to one author or hashtag.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := feedQuery(strings.TrimSpace(qs.Get("author")), strings.TrimSpace(qs.Get("hashtag")), parseLimit(r, 50, 1, 200))
	docs, err := h.store.Query(r.Context(), q)
	if err != nil {
		h.writeStoreError(w, r, "posts", err)
		return
	}
	posts := decodeAll(h, docs, models.DecodePost)
	items := make([]viewmodel.PostView, 0, len(posts))
	for _, p := range posts {
		items = append(items, viewmodel.PostCard(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createPostRequest struct {
	Content  string `json:"content"`
	Location string `json:"location"`
	MediaURL string `json:"mediaUrl"`
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return
	}
	if !h.allow(w, r, ratelimit.FeatureWrite, id.UID) {
		return
	}
	var body createPostRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	content := strings.TrimSpace(body.Content)
	if len(content) > maxPostLength {
		badRequest(w, "post is too long")
		return
	}

	author, err := h.profileOrIdentity(r, id)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	post := models.NewPost(author, content, strings.TrimSpace(body.Location), strings.TrimSpace(body.MediaURL), h.now())
	if err := post.Validate(); err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	doc, err := h.store.Create(r.Context(), models.CollectionPosts, "", "", post)
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	post.ID = doc.ID
	h.logger.Printf("[Posts][Create] id=%s author=%s hashtags=%d", post.ID, post.AuthorID, len(post.Hashtags))
	writeJSON(w, http.StatusCreated, post)
}

// profileOrIdentity loads the caller's profile, falling back to the token
// claims when the profile was never bootstrapped.
func (h *Handler) profileOrIdentity(r *http.Request, id auth.Identity) (models.Profile, error) {
	doc, err := h.store.Get(r.Context(), models.CollectionProfiles, id.UID)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.Profile{UID: id.UID, DisplayName: displayNameFor(id), Email: id.Email}, nil
	}
	if err != nil {
		return models.Profile{}, err
	}
	return models.DecodeProfile(doc)
}

func (h *Handler) writePost(w http.ResponseWriter, r *http.Request, doc docstore.Document) {
	p, err := models.DecodePost(doc)
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) LikePost(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	doc, err := h.store.Update(r.Context(), models.CollectionPosts, pathVar(r, "postId"), docstore.Increment("likes", 1))
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	h.writePost(w, r, doc)
}

// UnlikePost decrements likes but never below zero.
func (h *Handler) UnlikePost(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	postID := pathVar(r, "postId")
	conds := []docstore.Filter{docstore.Where("likes", docstore.OpGt, 0)}
	doc, err := h.store.UpdateWhere(r.Context(), models.CollectionPosts, postID, conds, docstore.Increment("likes", -1))
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		doc, err = h.store.Get(r.Context(), models.CollectionPosts, postID)
	}
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	h.writePost(w, r, doc)
}

func (h *Handler) RepostPost(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	doc, err := h.store.Update(r.Context(), models.CollectionPosts, pathVar(r, "postId"), docstore.Increment("reposts", 1))
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	h.writePost(w, r, doc)
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h *Handler) CommentOnPost(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return
	}
	if !h.allow(w, r, ratelimit.FeatureWrite, id.UID) {
		return
	}
	var body commentRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		badRequest(w, "comment text is required")
		return
	}
	if len(text) > maxPostLength {
		badRequest(w, "comment is too long")
		return
	}
	author, err := h.profileOrIdentity(r, id)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	c := models.Comment{
		ID:         uuid.NewString(),
		AuthorID:   id.UID,
		AuthorName: author.DisplayName,
		Text:       text,
		CreatedAt:  h.now().UTC(),
	}
	doc, err := h.store.Update(r.Context(), models.CollectionPosts, pathVar(r, "postId"), docstore.ArrayAppend("comments", c))
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	h.writePost(w, r, doc)
}

// TogglePin flips isPinned. Only the author may pin; the write only applies
// if the flag still holds the value that was read.
func (h *Handler) TogglePin(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	postID := pathVar(r, "postId")
	doc, err := h.store.Get(r.Context(), models.CollectionPosts, postID)
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	p, err := models.DecodePost(doc)
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	if p.AuthorID != uid {
		forbidden(w, "only the author can pin a post")
		return
	}
	conds := []docstore.Filter{docstore.Where("isPinned", docstore.OpEq, p.IsPinned)}
	doc, err = h.store.UpdateWhere(r.Context(), models.CollectionPosts, postID, conds, docstore.Set("isPinned", !p.IsPinned))
	if err != nil {
		h.writeStoreError(w, r, "post", err)
		return
	}
	h.writePost(w, r, doc)
}
