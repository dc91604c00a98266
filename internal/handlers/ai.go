package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/ratelimit"
)

const maxPromptLength = 1000

var toneOpeners = map[string]string{
	"casual":       "Hey friends!",
	"professional": "Update:",
	"funny":        "Plot twist:",
	"inspiring":    "Small reminder:",
}

// platformLimits caps generated text for platforms with short posts.
var platformLimits = map[string]int{
	"x":         280,
	"threads":   500,
	"instagram": 2200,
}

// generateText is the stand-in for a language model: same input, same output.
func generateText(prompt, tone, platform string) string {
	opener, ok := toneOpeners[tone]
	if !ok {
		opener = toneOpeners["casual"]
	}
	tags := models.ExtractHashtags(prompt)
	body := strings.TrimSpace(prompt)
	text := fmt.Sprintf("%s %s", opener, body)
	if !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?") {
		text += "."
	}
	if len(tags) == 0 && platform != "" {
		text += " #" + platform
	}
	if limit, ok := platformLimits[platform]; ok {
		text = truncate(text, limit)
	}
	return text
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	Tone     string `json:"tone"`
	Platform string `json:"platform"`
}

func (h *Handler) GenerateText(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok || !h.allow(w, r, ratelimit.FeatureAI, uid) {
		return
	}
	var body generateRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	prompt := strings.TrimSpace(body.Prompt)
	if len(prompt) > maxPromptLength {
		badRequest(w, "prompt is too long")
		return
	}
	tone := strings.ToLower(strings.TrimSpace(body.Tone))
	platform := strings.ToLower(strings.TrimSpace(body.Platform))
	out := models.AIGeneratedContent{
		UserID:    uid,
		Prompt:    prompt,
		Tone:      tone,
		Platform:  platform,
		Text:      generateText(prompt, tone, platform),
		CreatedAt: h.now().UTC(),
	}
	if err := out.Validate(); err != nil {
		h.writeStoreError(w, r, "generation", err)
		return
	}
	doc, err := h.store.Create(r.Context(), models.CollectionAIGeneratedContent, "", "", out)
	if err != nil {
		h.writeStoreError(w, r, "generation", err)
		return
	}
	out.ID = doc.ID
	h.logger.Printf("[AI][Generate] id=%s user=%s tone=%s platform=%s", out.ID, uid, tone, platform)
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if _, ok := h.requireActsFor(w, r, userID, nil); !ok {
		return
	}
	q := docstore.Query{Collection: models.CollectionAIGeneratedContent, Limit: parseLimit(r, 50, 1, 200)}.
		Where("userId", docstore.OpEq, userID).
		Sort("createdAt", docstore.KindTime, true)
	docs, err := h.store.Query(r.Context(), q)
	if err != nil {
		h.writeStoreError(w, r, "generations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": decodeAll(h, docs, models.DecodeAIGeneratedContent)})
}
