package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/media"
	"github.com/PortNumber53/creator-studio/internal/models"
	"github.com/PortNumber53/creator-studio/internal/progress"
	"github.com/PortNumber53/creator-studio/internal/ratelimit"
	"github.com/PortNumber53/creator-studio/internal/viewmodel"
)

const maxTitleLength = 200

func contentQuery(userID string, publishedOnly bool) docstore.Query {
	q := docstore.Query{Collection: models.CollectionContent}.
		Where("userId", docstore.OpEq, userID).
		Sort("createdAt", docstore.KindTime, true)
	if publishedOnly {
		q = q.Where("status", docstore.OpEq, models.ContentStatusPublished)
	}
	return q
}

// ListContent renders the content library table. Visitors only see published
// items; the creator and managers with manageContent see everything. View,
// like and earning counters are hidden unless the caller may view analytics,
// and hidden before sorting so they cannot leak through the order.
func (h *Handler) ListContent(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	userID := pathVar(r, "userId")
	qs := r.URL.Query()
	sortKey := strings.TrimSpace(qs.Get("sort"))
	if sortKey == "" {
		sortKey = viewmodel.SortCreatedAt
	}
	if !viewmodel.ValidSortKey(sortKey) {
		badRequest(w, "sort must be one of createdAt, title, price, views, likes, earned")
		return
	}
	desc := !strings.EqualFold(qs.Get("order"), "asc")

	owner, err := h.actsFor(r.Context(), uid, userID, permManageContent)
	if err != nil {
		h.writeStoreError(w, r, "manager relation", err)
		return
	}
	docs, err := h.store.Query(r.Context(), contentQuery(userID, !owner))
	if err != nil {
		h.writeStoreError(w, r, "content", err)
		return
	}
	analytics, err := h.actsFor(r.Context(), uid, userID, permViewAnalytics)
	if err != nil {
		h.writeStoreError(w, r, "manager relation", err)
		return
	}
	items := decodeAll(h, docs, models.DecodeContentItem)
	if !analytics {
		for i := range items {
			items[i] = withoutAnalytics(items[i])
		}
	}
	items = viewmodel.FilterContent(items, viewmodel.ContentFilter{
		Type:   strings.TrimSpace(qs.Get("type")),
		Status: strings.TrimSpace(qs.Get("status")),
		Search: strings.TrimSpace(qs.Get("q")),
	})
	viewmodel.SortContent(items, sortKey, desc)

	rows := make([]viewmodel.Content, 0, len(items))
	for _, it := range items {
		rows = append(rows, viewmodel.ContentRow(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func withoutAnalytics(it models.ContentItem) models.ContentItem {
	it.Views, it.Likes, it.Earned = nil, nil, nil
	return it
}

// contentRowFor renders rows for a viewer with or without analytics access.
func contentRowFor(analytics bool) func(models.ContentItem) viewmodel.Content {
	if analytics {
		return viewmodel.ContentRow
	}
	return func(it models.ContentItem) viewmodel.Content { return viewmodel.ContentRow(withoutAnalytics(it)) }
}

type contentUploadResponse struct {
	Item   models.ContentItem `json:"item"`
	Row    viewmodel.Content  `json:"row"`
	Upload progress.Status    `json:"upload"`
}

// UploadContent validates the file, streams it to the provider, derives the
// video thumbnail and only then writes the content item.
func (h *Handler) UploadContent(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	actor, ok := h.requireActsFor(w, r, userID, permManageContent)
	if !ok || !h.mediaReady(w) || !h.allow(w, r, ratelimit.FeatureUpload, actor) {
		return
	}

	rf, done, ok := h.receiveFile(w, r, "")
	if !ok {
		return
	}
	defer done()

	price, err := parsePrice(r.FormValue("price"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	status := strings.TrimSpace(r.FormValue("status"))
	if status == "" {
		status = models.ContentStatusPublished
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(rf.header.Filename, filepath.Ext(rf.header.Filename))
	}
	item := models.ContentItem{
		UserID: userID,
		Title:  truncate(title, maxTitleLength),
		Type:   string(rf.kind),
		Price:  price,
		Status: status,
		URL:    "pending",
	}
	// reject bad form fields before paying for the upload
	if err := item.Validate(); err != nil {
		h.writeStoreError(w, r, "content", err)
		return
	}

	asset, upStatus, err := h.upload(r.Context(), actor, rf, "creators/"+userID)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	item.URL = asset.CanonicalURL
	item.AssetID = asset.AssetID
	item.Format = asset.Format
	item.Width = asset.Width
	item.Height = asset.Height
	item.Bytes = asset.Bytes
	item.CreatedAt = h.now().UTC()
	if rf.kind == media.KindVideo {
		item.ThumbnailURL = h.thumbs.ThumbnailURL(asset.AssetID, media.DefaultThumbnailSeconds)
		item.Duration = asset.Duration
	}

	doc, err := h.store.Create(r.Context(), models.CollectionContent, "", "", item)
	if err != nil {
		h.logger.Printf("[Content][Upload] create_failed user=%s assetId=%s err=%v", userID, asset.AssetID, err)
		h.writeStoreError(w, r, "content", err)
		return
	}
	item.ID = doc.ID
	h.logger.Printf("[Content][Upload] ok id=%s user=%s actor=%s type=%s bytes=%d", item.ID, userID, actor, item.Type, item.Bytes)
	writeJSON(w, http.StatusCreated, contentUploadResponse{Item: item, Row: viewmodel.ContentRow(item), Upload: upStatus})
}

func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if raw == "" {
		return decimal.Zero, nil
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &priceError{"price must be a number"}
	}
	if p.IsNegative() {
		return decimal.Zero, &priceError{"price cannot be negative"}
	}
	if p.Exponent() < -2 {
		return decimal.Zero, &priceError{"price has more than two decimals"}
	}
	return p, nil
}

type priceError struct{ msg string }

func (e *priceError) Error() string { return e.msg }

type contentPatch struct {
	Title  *string          `json:"title"`
	Price  *decimal.Decimal `json:"price"`
	Status *string          `json:"status"`
}

func (h *Handler) loadContent(w http.ResponseWriter, r *http.Request) (models.ContentItem, string, bool) {
	doc, err := h.store.Get(r.Context(), models.CollectionContent, pathVar(r, "contentId"))
	if err != nil {
		h.writeStoreError(w, r, "content", err)
		return models.ContentItem{}, "", false
	}
	item, err := models.DecodeContentItem(doc)
	if err != nil {
		h.writeStoreError(w, r, "content", err)
		return models.ContentItem{}, "", false
	}
	actor, ok := h.requireActsFor(w, r, item.UserID, permManageContent)
	return item, actor, ok
}

func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	item, actor, ok := h.loadContent(w, r)
	if !ok {
		return
	}
	var body contentPatch
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	var updates []docstore.FieldUpdate
	if body.Title != nil {
		t := strings.TrimSpace(*body.Title)
		if t == "" {
			badRequest(w, "title cannot be empty")
			return
		}
		item.Title = truncate(t, maxTitleLength)
		updates = append(updates, docstore.Set("title", item.Title))
	}
	if body.Price != nil {
		p, err := parsePrice(body.Price.String())
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		item.Price = p
		updates = append(updates, docstore.Set("price", p))
	}
	if body.Status != nil {
		item.Status = strings.TrimSpace(*body.Status)
		updates = append(updates, docstore.Set("status", item.Status))
	}
	if len(updates) == 0 {
		badRequest(w, "nothing to update")
		return
	}
	if err := item.Validate(); err != nil {
		h.writeStoreError(w, r, "content", err)
		return
	}
	doc, err := h.store.Update(r.Context(), models.CollectionContent, item.ID, updates...)
	if err != nil {
		h.writeStoreError(w, r, "content", err)
		return
	}
	updated, err := models.DecodeContentItem(doc)
	if err != nil {
		h.writeStoreError(w, r, "content", err)
		return
	}
	h.logger.Printf("[Content][Update] id=%s actor=%s fields=%d", item.ID, actor, len(updates))
	writeJSON(w, http.StatusOK, viewmodel.ContentRow(updated))
}

// DeleteContent removes the library entry. The provider asset is left in place.
func (h *Handler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	item, actor, ok := h.loadContent(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), models.CollectionContent, item.ID); err != nil {
		h.writeStoreError(w, r, "content", err)
		return
	}
	h.logger.Printf("[Content][Delete] id=%s actor=%s assetId=%s", item.ID, actor, item.AssetID)
	w.WriteHeader(http.StatusNoContent)
}
