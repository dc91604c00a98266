package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/PortNumber53/creator-studio/internal/middleware"
)

// Register mounts every route on r. requireAuth guards the /api subtree; the
// health check, the Stripe webhook and the publisher's internal endpoints sit
// outside it.
func Register(r *mux.Router, h *Handler, requireAuth mux.MiddlewareFunc) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/webhook/stripe", h.StripeWebhook).Methods("POST")

	// External publisher contract (X-Internal-Secret), matched before the authed subtree.
	internal := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireInternalSecret(h.cfg.InternalSecret, next)
	}
	r.HandleFunc("/api/scheduled-posts/claim-due", internal(h.ClaimDueScheduledPosts)).Methods("POST")
	r.HandleFunc("/api/scheduled-posts/{id}/published", internal(h.MarkScheduledPostPublished)).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	if requireAuth != nil {
		api.Use(requireAuth)
	}

	// Profiles
	api.HandleFunc("/profiles/bootstrap", h.BootstrapProfile).Methods("POST")
	api.HandleFunc("/profiles/{uid}", h.GetProfile).Methods("GET")
	api.HandleFunc("/profiles/{uid}", h.UpdateProfile).Methods("PATCH")
	api.HandleFunc("/profiles/{uid}/creator", h.BecomeCreator).Methods("POST")
	api.HandleFunc("/creators", h.ListCreators).Methods("GET")

	// Feed
	api.HandleFunc("/posts", h.ListPosts).Methods("GET")
	api.HandleFunc("/posts", h.idem.Wrap("posts.create", h.CreatePost)).Methods("POST")
	api.HandleFunc("/posts/{postId}/like", h.LikePost).Methods("POST")
	api.HandleFunc("/posts/{postId}/like", h.UnlikePost).Methods("DELETE")
	api.HandleFunc("/posts/{postId}/repost", h.RepostPost).Methods("POST")
	api.HandleFunc("/posts/{postId}/comments", h.CommentOnPost).Methods("POST")
	api.HandleFunc("/posts/{postId}/pin", h.TogglePin).Methods("POST")

	// Content library
	api.HandleFunc("/content/user/{userId}", h.ListContent).Methods("GET")
	api.HandleFunc("/content/user/{userId}/upload", h.UploadContent).Methods("POST")
	api.HandleFunc("/content/{contentId}", h.UpdateContent).Methods("PATCH")
	api.HandleFunc("/content/{contentId}", h.DeleteContent).Methods("DELETE")
	api.HandleFunc("/content/{contentId}/checkout", h.CreateCheckout).Methods("POST")

	// Uploads
	api.HandleFunc("/uploads", h.CreateUpload).Methods("POST")
	api.HandleFunc("/uploads", h.ListUploads).Methods("GET")
	api.HandleFunc("/uploads/{uploadId}", h.GetUpload).Methods("GET")
	api.HandleFunc("/uploads/{uploadId}", h.CancelUpload).Methods("DELETE")

	// Scheduler
	api.HandleFunc("/scheduled-posts/user/{userId}", h.ListScheduledPosts).Methods("GET")
	api.HandleFunc("/scheduled-posts/user/{userId}", h.idem.Wrap("scheduled.create", h.CreateScheduledPost)).Methods("POST")
	api.HandleFunc("/scheduled-posts/{id}", h.DeleteScheduledPost).Methods("DELETE")

	// Messages
	api.HandleFunc("/conversations", h.ListConversations).Methods("GET")
	api.HandleFunc("/conversations", h.OpenConversation).Methods("POST")
	api.HandleFunc("/conversations/{conversationId}/messages", h.ListMessages).Methods("GET")
	api.HandleFunc("/conversations/{conversationId}/messages", h.idem.Wrap("messages.send", h.SendMessage)).Methods("POST")
	api.HandleFunc("/conversations/{conversationId}/read", h.MarkConversationRead).Methods("POST")

	// Managers
	api.HandleFunc("/managers/creator/{creatorId}", h.ListManagers).Methods("GET")
	api.HandleFunc("/managers/invitations", h.idem.Wrap("managers.invite", h.InviteManager)).Methods("POST")
	api.HandleFunc("/managers/invitations/creator/{creatorId}", h.ListInvitations).Methods("GET")
	api.HandleFunc("/managers/invitations/{invitationId}/accept", h.AcceptInvitation).Methods("POST")
	api.HandleFunc("/managers/invitations/{invitationId}/decline", h.DeclineInvitation).Methods("POST")
	api.HandleFunc("/managers/applications", h.ApplyAsManager).Methods("POST")
	api.HandleFunc("/managers/applications/creator/{creatorId}", h.ListApplications).Methods("GET")
	api.HandleFunc("/managers/{managerId}", h.UpdateManager).Methods("PATCH")
	api.HandleFunc("/managers/{managerId}", h.RemoveManager).Methods("DELETE")

	// AI
	api.HandleFunc("/ai/generate", h.GenerateText).Methods("POST")
	api.HandleFunc("/ai/history/user/{userId}", h.ListGenerations).Methods("GET")

	// Settings
	api.HandleFunc("/settings/user/{userId}", h.GetSettings).Methods("GET")
	api.HandleFunc("/settings/user/{userId}/{section}", h.PutSettingsSection).Methods("PUT")

	// Live stream
	api.HandleFunc("/live/ws", h.LiveWebSocket).Methods("GET")

	// Diagnostics
	api.HandleFunc("/diagnostics/storage", h.StorageDiagnostics).Methods("GET")
}
