package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
)

// permission picks one flag out of a manager's grants.
type permission func(models.ManagerPermissions) bool

var (
	permEditProfile    permission = func(p models.ManagerPermissions) bool { return p.EditProfile }
	permManageContent  permission = func(p models.ManagerPermissions) bool { return p.ManageContent }
	permManageSchedule permission = func(p models.ManagerPermissions) bool { return p.ManageSchedule }
	permViewAnalytics  permission = func(p models.ManagerPermissions) bool { return p.ViewAnalytics }
	permAny            permission = func(models.ManagerPermissions) bool { return true }
)

// actsFor reports whether uid is creatorID or a connected manager of creatorID
// holding perm. A nil perm allows only the creator.
func (h *Handler) actsFor(ctx context.Context, uid, creatorID string, perm permission) (bool, error) {
	if uid != "" && uid == creatorID {
		return true, nil
	}
	if perm == nil || uid == "" || creatorID == "" {
		return false, nil
	}
	q := docstore.Query{Collection: models.CollectionManagers}.
		Where("creatorId", docstore.OpEq, creatorID).
		Where("managerId", docstore.OpEq, uid).
		Where("status", docstore.OpEq, models.ManagerStatusConnected)
	docs, err := h.store.Query(ctx, q)
	if err != nil {
		return false, err
	}
	for _, d := range docs {
		m, err := models.DecodeManager(d)
		if err != nil {
			h.logger.Printf("[Managers][Decode] id=%s err=%v", d.ID, err)
			continue
		}
		if perm(m.Permissions) {
			return true, nil
		}
	}
	return false, nil
}

// requireActsFor writes 401/403/500 and returns false when the caller may not act for creatorID.
func (h *Handler) requireActsFor(w http.ResponseWriter, r *http.Request, creatorID string, perm permission) (string, bool) {
	uid, ok := caller(w, r)
	if !ok {
		return "", false
	}
	allowed, err := h.actsFor(r.Context(), uid, creatorID, perm)
	if err != nil {
		h.writeStoreError(w, r, "manager relation", err)
		return "", false
	}
	if !allowed {
		forbidden(w, "not allowed to act for this creator")
		return "", false
	}
	return uid, true
}

// allow consumes one unit of the caller's budget for feature and writes a 429 when it is spent.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, feature, uid string) bool {
	d := h.limits.Allow(r.Context(), feature, uid)
	if d.Allowed {
		return true
	}
	secs := int(d.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	msg := "too many requests, slow down"
	if d.Reason == "daily_quota" {
		msg = "daily limit reached, try again tomorrow"
	}
	writeError(w, http.StatusTooManyRequests, codeRateLimited, msg)
	return false
}
