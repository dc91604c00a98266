package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/notify"
)

const notifyTimeout = 10 * time.Second

// pushTo sends n to recipient in the background when their notification
// settings allow it. wants selects the per-event opt-in flag.
func (h *Handler) pushTo(ctx context.Context, recipient string, wants func(models.NotificationSettings) bool, n notify.Notification) {
	if recipient == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		doc, err := h.store.Get(ctx, models.CollectionUserSettings, recipient)
		if errors.Is(err, docstore.ErrNotFound) {
			return
		}
		if err != nil {
			h.logger.Printf("[Notify] settings_error user=%s err=%v", recipient, err)
			return
		}
		s, err := models.DecodeUserSettings(doc)
		if err != nil {
			h.logger.Printf("[Notify] settings_decode user=%s err=%v", recipient, err)
			return
		}
		if !s.Notifications.Push || s.Notifications.PushToken == "" || (wants != nil && !wants(s.Notifications)) {
			return
		}
		n.Token = s.Notifications.PushToken
		if err := h.notifier.Notify(ctx, n); err != nil {
			h.logger.Printf("[Notify] send_error user=%s title=%q err=%v", recipient, n.Title, err)
			return
		}
		h.logger.Printf("[Notify] sent user=%s title=%q", recipient, n.Title)
	}()
}
