package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
)

func defaultSettings(uid string) models.UserSettings {
	return models.UserSettings{
		UserID: uid,
		Notifications: models.NotificationSettings{
			Email:          true,
			NewMessages:    true,
			NewSubscribers: true,
			ManagerInvites: true,
		},
		Privacy: models.PrivacySettings{
			ProfileVisibility: "public",
			ShowOnlineStatus:  true,
			AllowMessagesFrom: "everyone",
		},
		Billing:     models.BillingSettings{Currency: "USD"},
		Preferences: models.PreferenceSettings{Language: "en", Timezone: "UTC", Theme: "system"},
	}
}

// GetSettings returns every section. A user who never saved settings gets the defaults.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if _, ok := h.requireActsFor(w, r, userID, nil); !ok {
		return
	}
	doc, err := h.store.Get(r.Context(), models.CollectionUserSettings, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		writeJSON(w, http.StatusOK, defaultSettings(userID))
		return
	}
	if err != nil {
		h.writeStoreError(w, r, "settings", err)
		return
	}
	s, err := models.DecodeUserSettings(doc)
	if err != nil {
		h.writeStoreError(w, r, "settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PutSettingsSection saves one section. Sent keys are merged into the stored
// section unless mode=replace, which overwrites the section with exactly what
// was sent.
func (h *Handler) PutSettingsSection(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if _, ok := h.requireActsFor(w, r, userID, nil); !ok {
		return
	}
	section := pathVar(r, "section")
	if !models.IsSettingsSection(section) {
		writeError(w, http.StatusNotFound, codeNotFound, "unknown settings section")
		return
	}
	mode := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mode")))
	if mode != "" && mode != "merge" && mode != "replace" {
		badRequest(w, "mode must be merge or replace")
		return
	}
	raw, err := readBody(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	fields, err := models.DecodeSettingsSection(section, raw)
	if err != nil {
		h.writeStoreError(w, r, "settings", err)
		return
	}
	replace := mode == "replace"
	now := h.now().UTC()

	var updates []docstore.FieldUpdate
	if replace {
		updates = append(updates, docstore.Set(section, fields))
	} else {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			updates = append(updates, docstore.Set(docstore.Path(section, k), fields[k]))
		}
	}
	updates = append(updates, docstore.Set("updatedAt", now))

	doc, err := h.store.Update(r.Context(), models.CollectionUserSettings, userID, updates...)
	if errors.Is(err, docstore.ErrNotFound) {
		doc, err = h.createSettings(r, userID, section, fields, replace)
		if errors.Is(err, docstore.ErrAlreadyExists) {
			doc, err = h.store.Update(r.Context(), models.CollectionUserSettings, userID, updates...)
		}
	}
	if err != nil {
		h.writeStoreError(w, r, "settings", err)
		return
	}
	s, err := models.DecodeUserSettings(doc)
	if err != nil {
		h.writeStoreError(w, r, "settings", err)
		return
	}
	h.logger.Printf("[Settings][Put] user=%s section=%s replace=%t keys=%d", userID, section, replace, len(fields))
	writeJSON(w, http.StatusOK, s)
}

// createSettings writes the first settings document: defaults with the sent
// section applied on top.
func (h *Handler) createSettings(r *http.Request, userID, section string, fields map[string]any, replace bool) (docstore.Document, error) {
	s := defaultSettings(userID)
	s.UpdatedAt = h.now().UTC()
	b, err := json.Marshal(s)
	if err != nil {
		return docstore.Document{}, err
	}
	var body map[string]any
	if err := json.Unmarshal(b, &body); err != nil {
		return docstore.Document{}, err
	}
	cur, _ := body[section].(map[string]any)
	if replace || cur == nil {
		cur = map[string]any{}
	}
	for k, v := range fields {
		cur[k] = v
	}
	body[section] = cur
	return h.store.Create(r.Context(), models.CollectionUserSettings, "", userID, body)
}
