package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/viewmodel"
)

// BootstrapProfile creates the caller's profile on first sign-in. The profile id
// is the token subject, so repeated sign-ins always land on the same document.
func (h *Handler) BootstrapProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return
	}
	ctx := r.Context()

	if doc, err := h.store.Get(ctx, models.CollectionProfiles, id.UID); err == nil {
		p, err := models.DecodeProfile(doc)
		if err != nil {
			h.writeStoreError(w, r, "profile", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	} else if !errors.Is(err, docstore.ErrNotFound) {
		h.writeStoreError(w, r, "profile", err)
		return
	}

	now := h.now().UTC()
	p := models.Profile{
		UID:         id.UID,
		DisplayName: displayNameFor(id),
		Email:       id.Email,
		Categories:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc, err := h.store.Create(ctx, models.CollectionProfiles, "", id.UID, p)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		// a concurrent sign-in won
		doc, err = h.store.Get(ctx, models.CollectionProfiles, id.UID)
		if err == nil {
			p, err = models.DecodeProfile(doc)
		}
		if err != nil {
			h.writeStoreError(w, r, "profile", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	h.logger.Printf("[Profiles][Bootstrap] created uid=%s", doc.ID)
	writeJSON(w, http.StatusCreated, p)
}

func displayNameFor(id auth.Identity) string {
	if strings.TrimSpace(id.Name) != "" {
		return strings.TrimSpace(id.Name)
	}
	if at := strings.Index(id.Email, "@"); at > 0 {
		return id.Email[:at]
	}
	return ""
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	uid := pathVar(r, "uid")
	doc, err := h.store.Get(r.Context(), models.CollectionProfiles, uid)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	p, err := models.DecodeProfile(doc)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profilePatch struct {
	DisplayName     *string   `json:"displayName"`
	Handle          *string   `json:"handle"`
	PhotoURL        *string   `json:"photoURL"`
	Bio             *string   `json:"bio"`
	Categories      *[]string `json:"categories"`
	ProfileComplete *bool     `json:"profileComplete"`
}

// UpdateProfile applies a partial update. Allowed for the profile owner and for
// connected managers granted editProfile.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid := pathVar(r, "uid")
	actor, ok := h.requireActsFor(w, r, uid, permEditProfile)
	if !ok {
		return
	}
	var body profilePatch
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}

	var updates []docstore.FieldUpdate
	if body.DisplayName != nil {
		name := strings.TrimSpace(*body.DisplayName)
		if name == "" {
			badRequest(w, "displayName cannot be empty")
			return
		}
		updates = append(updates, docstore.Set("displayName", name))
	}
	if body.Handle != nil {
		updates = append(updates, docstore.Set("handle", strings.TrimPrefix(strings.TrimSpace(*body.Handle), "@")))
	}
	if body.PhotoURL != nil {
		updates = append(updates, docstore.Set("photoURL", strings.TrimSpace(*body.PhotoURL)))
	}
	if body.Bio != nil {
		updates = append(updates, docstore.Set("bio", truncate(strings.TrimSpace(*body.Bio), 2000)))
	}
	if body.Categories != nil {
		updates = append(updates, docstore.Set("categories", cleanTags(*body.Categories)))
	}
	if body.ProfileComplete != nil {
		updates = append(updates, docstore.Set("profileComplete", *body.ProfileComplete))
	}
	if len(updates) == 0 {
		badRequest(w, "nothing to update")
		return
	}
	updates = append(updates, docstore.Set("updatedAt", h.now().UTC()))

	doc, err := h.store.Update(r.Context(), models.CollectionProfiles, uid, updates...)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	p, err := models.DecodeProfile(doc)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	h.logger.Printf("[Profiles][Update] uid=%s actor=%s fields=%d", uid, actor, len(updates)-1)
	writeJSON(w, http.StatusOK, p)
}

type becomeCreatorRequest struct {
	Bio        string   `json:"bio"`
	Categories []string `json:"categories"`
}

// BecomeCreator flips the creator flag and queues verification.
func (h *Handler) BecomeCreator(w http.ResponseWriter, r *http.Request) {
	uid := pathVar(r, "uid")
	if _, ok := h.requireActsFor(w, r, uid, nil); !ok {
		return
	}
	var body becomeCreatorRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	cats := cleanTags(body.Categories)
	if len(cats) == 0 {
		badRequest(w, "pick at least one category")
		return
	}
	doc, err := h.store.Update(r.Context(), models.CollectionProfiles, uid,
		docstore.Set("isCreator", true),
		docstore.Set("bio", truncate(strings.TrimSpace(body.Bio), 2000)),
		docstore.Set("categories", cats),
		docstore.Set("verificationStatus", models.VerificationPending),
		docstore.Set("profileComplete", true),
		docstore.Set("updatedAt", h.now().UTC()),
	)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	p, err := models.DecodeProfile(doc)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	h.logger.Printf("[Profiles][Creator] uid=%s categories=%v", uid, cats)
	writeJSON(w, http.StatusOK, p)
}

func creatorsQuery(category string, limit int) docstore.Query {
	q := docstore.Query{Collection: models.CollectionProfiles, Limit: limit}.
		Where("isCreator", docstore.OpEq, true).
		Sort("createdAt", docstore.KindTime, true)
	if category != "" {
		q = q.Where("categories", docstore.OpArrayContains, category)
	}
	return q
}

func (h *Handler) ListCreators(w http.ResponseWriter, r *http.Request) {
	category := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category")))
	docs, err := h.store.Query(r.Context(), creatorsQuery(category, parseLimit(r, 50, 1, 200)))
	if err != nil {
		h.writeStoreError(w, r, "creators", err)
		return
	}
	profiles := decodeAll(h, docs, models.DecodeProfile)
	items := make([]viewmodel.Creator, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, viewmodel.CreatorCard(p, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// cleanTags lowercases, trims and de-duplicates, keeping first-seen order.
func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
