package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/notify"
	"github.com/PortNumber53/creator-studio/internal/viewmodel"
)

func managersQuery(creatorID string) docstore.Query {
	return docstore.Query{Collection: models.CollectionManagers}.
		Where("creatorId", docstore.OpEq, creatorID).
		Sort("createdAt", docstore.KindTime, true)
}

// ListManagers shows a creator's team. Connected managers can see their teammates.
func (h *Handler) ListManagers(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if _, ok := h.requireActsFor(w, r, creatorID, permAny); !ok {
		return
	}
	docs, err := h.store.Query(r.Context(), managersQuery(creatorID))
	if err != nil {
		h.writeStoreError(w, r, "managers", err)
		return
	}
	managers := decodeAll(h, docs, models.DecodeManager)
	items := make([]viewmodel.ManagerView, 0, len(managers))
	for _, m := range managers {
		items = append(items, viewmodel.ManagerCard(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) loadManager(w http.ResponseWriter, r *http.Request) (models.Manager, bool) {
	doc, err := h.store.Get(r.Context(), models.CollectionManagers, pathVar(r, "managerId"))
	if err != nil {
		h.writeStoreError(w, r, "manager", err)
		return models.Manager{}, false
	}
	m, err := models.DecodeManager(doc)
	if err != nil {
		h.writeStoreError(w, r, "manager", err)
		return models.Manager{}, false
	}
	return m, true
}

type managerPatch struct {
	Status      *string                    `json:"status"`
	Permissions *models.ManagerPermissions `json:"permissions"`
}

// UpdateManager changes a manager's status or grants. Only the creator may do this.
func (h *Handler) UpdateManager(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	m, ok := h.loadManager(w, r)
	if !ok {
		return
	}
	if m.CreatorID != uid {
		forbidden(w, "only the creator can change a manager")
		return
	}
	var body managerPatch
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	var updates []docstore.FieldUpdate
	if body.Status != nil {
		m.Status = strings.TrimSpace(*body.Status)
		updates = append(updates, docstore.Set("status", m.Status))
	}
	if body.Permissions != nil {
		m.Permissions = *body.Permissions
		updates = append(updates, docstore.Set("permissions", m.Permissions))
	}
	if len(updates) == 0 {
		badRequest(w, "nothing to update")
		return
	}
	if err := m.Validate(); err != nil {
		h.writeStoreError(w, r, "manager", err)
		return
	}
	updates = append(updates, docstore.Set("updatedAt", h.now().UTC()))
	doc, err := h.store.Update(r.Context(), models.CollectionManagers, m.ID, updates...)
	if err != nil {
		h.writeStoreError(w, r, "manager", err)
		return
	}
	updated, err := models.DecodeManager(doc)
	if err != nil {
		h.writeStoreError(w, r, "manager", err)
		return
	}
	h.logger.Printf("[Managers][Update] id=%s creator=%s status=%s", m.ID, uid, updated.Status)
	writeJSON(w, http.StatusOK, viewmodel.ManagerCard(updated))
}

// RemoveManager ends the relation. Either side may do it.
func (h *Handler) RemoveManager(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	m, ok := h.loadManager(w, r)
	if !ok {
		return
	}
	if m.CreatorID != uid && m.ManagerID != uid {
		forbidden(w, "not part of this relation")
		return
	}
	if err := h.store.Delete(r.Context(), models.CollectionManagers, m.ID); err != nil {
		h.writeStoreError(w, r, "manager", err)
		return
	}
	h.logger.Printf("[Managers][Remove] id=%s by=%s", m.ID, uid)
	w.WriteHeader(http.StatusNoContent)
}

type inviteRequest struct {
	ManagerEmail string                    `json:"managerEmail"`
	ManagerName  string                    `json:"managerName"`
	Message      string                    `json:"message"`
	Permissions  models.ManagerPermissions `json:"permissions"`
}

func (h *Handler) InviteManager(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	var body inviteRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	inv := models.ManagerInvitation{
		CreatorID:    uid,
		ManagerEmail: strings.ToLower(strings.TrimSpace(body.ManagerEmail)),
		ManagerName:  strings.TrimSpace(body.ManagerName),
		Message:      truncate(strings.TrimSpace(body.Message), maxMessageLength),
		Permissions:  body.Permissions,
		Status:       models.RequestPending,
		CreatedAt:    h.now().UTC(),
	}
	if err := inv.Validate(); err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}
	doc, err := h.store.Create(r.Context(), models.CollectionManagerInvitations, "", "", inv)
	if err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}
	inv.ID = doc.ID
	h.logger.Printf("[Managers][Invite] id=%s creator=%s", inv.ID, uid)

	if invitee, err := h.profileByEmail(r, inv.ManagerEmail); err == nil && invitee != "" {
		h.pushTo(r.Context(), invitee, func(s models.NotificationSettings) bool { return s.ManagerInvites }, notify.Notification{
			Title: "You were invited to manage a creator",
			Body:  truncate(inv.Message, 120),
			Data:  map[string]string{"type": "managerInvitation", "invitationId": inv.ID},
		})
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) profileByEmail(r *http.Request, email string) (string, error) {
	q := docstore.Query{Collection: models.CollectionProfiles, Limit: 1}.Where("email", docstore.OpEq, email)
	docs, err := h.store.Query(r.Context(), q)
	if err != nil || len(docs) == 0 {
		return "", err
	}
	return docs[0].ID, nil
}

// ListInvitations returns the invitations a creator has sent.
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if _, ok := h.requireActsFor(w, r, creatorID, nil); !ok {
		return
	}
	q := docstore.Query{Collection: models.CollectionManagerInvitations}.
		Where("creatorId", docstore.OpEq, creatorID).
		Sort("createdAt", docstore.KindTime, true)
	docs, err := h.store.Query(r.Context(), q)
	if err != nil {
		h.writeStoreError(w, r, "invitations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": decodeAll(h, docs, models.DecodeManagerInvitation)})
}

// answerableBy writes a 403 unless inv was sent to the caller's verified email.
func answerableBy(w http.ResponseWriter, id auth.Identity, inv models.ManagerInvitation) bool {
	if id.Email == "" || !strings.EqualFold(id.Email, inv.ManagerEmail) {
		forbidden(w, "invitation is addressed to someone else")
		return false
	}
	if !id.EmailVerified {
		forbidden(w, "verify your email address to answer this invitation")
		return false
	}
	return true
}

// AcceptInvitation turns a pending invitation addressed to the caller's
// verified email into a connected manager relation. The status flip is
// conditional, so an invitation is accepted at most once; the manager takes
// the invitation's id and a failed create puts the invitation back to pending.
func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return
	}
	invID := pathVar(r, "invitationId")
	doc, err := h.store.Get(r.Context(), models.CollectionManagerInvitations, invID)
	if err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}
	inv, err := models.DecodeManagerInvitation(doc)
	if err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}
	if !answerableBy(w, id, inv) {
		return
	}
	if id.UID == inv.CreatorID {
		badRequest(w, "cannot manage yourself")
		return
	}

	conds := []docstore.Filter{docstore.Where("status", docstore.OpEq, models.RequestPending)}
	_, err = h.store.UpdateWhere(r.Context(), models.CollectionManagerInvitations, invID, conds,
		docstore.Set("status", models.RequestAccepted))
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		writeError(w, http.StatusConflict, codeConflict, "invitation was already answered")
		return
	}
	if err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}

	me, err := h.profileOrIdentity(r, id)
	if err != nil {
		h.reopenInvitation(r, invID)
		h.writeStoreError(w, r, "profile", err)
		return
	}
	now := h.now().UTC()
	m := models.Manager{
		CreatorID:   inv.CreatorID,
		ManagerID:   id.UID,
		Name:        me.DisplayName,
		Email:       id.Email,
		Avatar:      me.PhotoURL,
		Status:      models.ManagerStatusConnected,
		Specialties: []string{},
		Permissions: inv.Permissions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if m.Name == "" {
		m.Name = inv.ManagerName
	}
	mdoc, err := h.store.Create(r.Context(), models.CollectionManagers, "", invID, m)
	if err != nil {
		h.reopenInvitation(r, invID)
		h.writeStoreError(w, r, "manager", err)
		return
	}
	m.ID = mdoc.ID
	h.logger.Printf("[Managers][Accept] invitation=%s manager=%s creator=%s", invID, id.UID, inv.CreatorID)
	writeJSON(w, http.StatusCreated, viewmodel.ManagerCard(m))
}

func (h *Handler) reopenInvitation(r *http.Request, invID string) {
	conds := []docstore.Filter{docstore.Where("status", docstore.OpEq, models.RequestAccepted)}
	if _, err := h.store.UpdateWhere(r.Context(), models.CollectionManagerInvitations, invID, conds,
		docstore.Set("status", models.RequestPending)); err != nil {
		h.logger.Printf("[Managers][Accept] reopen_failed invitation=%s err=%v", invID, err)
	}
}

func (h *Handler) DeclineInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return
	}
	invID := pathVar(r, "invitationId")
	doc, err := h.store.Get(r.Context(), models.CollectionManagerInvitations, invID)
	if err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}
	inv, err := models.DecodeManagerInvitation(doc)
	if err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}
	if !answerableBy(w, id, inv) {
		return
	}
	conds := []docstore.Filter{docstore.Where("status", docstore.OpEq, models.RequestPending)}
	doc, err = h.store.UpdateWhere(r.Context(), models.CollectionManagerInvitations, invID, conds,
		docstore.Set("status", models.RequestDeclined))
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		writeError(w, http.StatusConflict, codeConflict, "invitation was already answered")
		return
	}
	if err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}
	inv, err = models.DecodeManagerInvitation(doc)
	if err != nil {
		h.writeStoreError(w, r, "invitation", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type applicationRequest struct {
	CreatorID   string   `json:"creatorId"`
	Message     string   `json:"message"`
	Specialties []string `json:"specialties"`
}

// ApplyAsManager records a manager's application to work with a creator.
func (h *Handler) ApplyAsManager(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return
	}
	var body applicationRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	creatorID := strings.TrimSpace(body.CreatorID)
	if creatorID == id.UID {
		badRequest(w, "cannot apply to manage yourself")
		return
	}
	if creatorID != "" {
		if _, err := h.store.Get(r.Context(), models.CollectionProfiles, creatorID); err != nil {
			h.writeStoreError(w, r, "creator profile", err)
			return
		}
	}
	me, err := h.profileOrIdentity(r, id)
	if err != nil {
		h.writeStoreError(w, r, "profile", err)
		return
	}
	app := models.ManagerApplication{
		CreatorID:     creatorID,
		ApplicantID:   id.UID,
		ApplicantName: me.DisplayName,
		Message:       truncate(strings.TrimSpace(body.Message), maxMessageLength),
		Specialties:   cleanTags(body.Specialties),
		Status:        models.RequestPending,
		CreatedAt:     h.now().UTC(),
	}
	if err := app.Validate(); err != nil {
		h.writeStoreError(w, r, "application", err)
		return
	}
	doc, err := h.store.Create(r.Context(), models.CollectionManagerApplications, "", "", app)
	if err != nil {
		h.writeStoreError(w, r, "application", err)
		return
	}
	app.ID = doc.ID
	h.logger.Printf("[Managers][Apply] id=%s applicant=%s creator=%s", app.ID, id.UID, creatorID)
	writeJSON(w, http.StatusCreated, app)
}

// ListApplications returns applications addressed to a creator.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if _, ok := h.requireActsFor(w, r, creatorID, nil); !ok {
		return
	}
	q := docstore.Query{Collection: models.CollectionManagerApplications}.
		Where("creatorId", docstore.OpEq, creatorID).
		Sort("createdAt", docstore.KindTime, true)
	docs, err := h.store.Query(r.Context(), q)
	if err != nil {
		h.writeStoreError(w, r, "applications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": decodeAll(h, docs, models.DecodeManagerApplication)})
}
