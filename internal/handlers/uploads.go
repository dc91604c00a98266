package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/media"
	"github.com/PortNumber53/creator-studio/internal/progress"
	"github.com/PortNumber53/creator-studio/internal/ratelimit"
)

// multipart parts above this size spill to temp files instead of memory
const multipartMemory = 32 << 20

type receivedFile struct {
	file   multipart.File
	header *multipart.FileHeader
	kind   media.Kind
	image  *media.ImageInfo
}

func (f *receivedFile) meta() media.FileMeta {
	return media.FileMeta{Filename: f.header.Filename, ContentType: f.header.Header.Get("Content-Type"), Size: f.header.Size}
}

// receiveFile parses the multipart body and validates the "file" part before
// anything is sent to the provider. want restricts the kind when non-empty.
// The returned func releases the form's temp files.
func (h *Handler) receiveFile(w http.ResponseWriter, r *http.Request, want media.Kind) (*receivedFile, func(), bool) {
	noop := func() {}
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		badRequest(w, "expected multipart/form-data")
		return nil, noop, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxVideoBytes+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			h.metrics.Rejected("too_large")
			badRequest(w, "file exceeds the 500MB limit")
			return nil, noop, false
		}
		badRequest(w, err.Error())
		return nil, noop, false
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	file, header, err := r.FormFile("file")
	if err != nil {
		cleanup()
		badRequest(w, "missing file")
		return nil, noop, false
	}
	rf := &receivedFile{file: file, header: header}
	done := func() {
		_ = file.Close()
		cleanup()
	}

	meta := rf.meta()
	if want != "" {
		rf.kind, err = media.ValidateAs(meta, want)
	} else {
		rf.kind, err = media.Validate(meta)
	}
	if err != nil {
		h.rejectFile(w, meta, err)
		done()
		return nil, noop, false
	}

	ct := media.NormalizeContentType(meta.ContentType, meta.Filename)
	if rf.kind == media.KindImage && media.HasImageDecoder(ct) {
		info, err := media.ReadImageInfo(file)
		if err != nil {
			h.rejectFile(w, meta, err)
			done()
			return nil, noop, false
		}
		rf.image = &info
	}
	return rf, done, true
}

func (h *Handler) rejectFile(w http.ResponseWriter, meta media.FileMeta, err error) {
	var ve *media.ValidationError
	if errors.As(err, &ve) {
		h.metrics.Rejected(ve.Reason)
		h.logger.Printf("[Upload][Reject] file=%q type=%q size=%d reason=%s", meta.Filename, meta.ContentType, meta.Size, ve.Reason)
		badRequest(w, ve.Message)
		return
	}
	badRequest(w, err.Error())
}

// upload streams rf to the provider under folder while the tracker records
// real byte progress. Until the provider reports bytes the simulator supplies
// an estimate. The returned status reflects the finished upload.
func (h *Handler) upload(ctx context.Context, uid string, rf *receivedFile, folder string) (media.Asset, progress.Status, error) {
	up, upCtx := h.tracker.Start(ctx, uid, string(rf.kind), rf.header.Size)
	sim := progress.ForKind(rf.kind == media.KindVideo, up.SetEstimate)
	sim.ResetDelay = 0
	var asset media.Asset
	err := sim.Run(upCtx, func(ctx context.Context) error {
		var err error
		asset, err = h.media.Upload(ctx, media.UploadRequest{
			File:     rf.file,
			Filename: rf.header.Filename,
			Size:     rf.header.Size,
			Kind:     rf.kind,
			Folder:   folder,
			Progress: func(sent, _ int64) { up.SetSent(sent) },
		})
		return err
	})
	h.tracker.Finish(up.ID, err)
	if err == nil && rf.image != nil {
		if asset.Width == nil {
			asset.Width = &rf.image.Width
		}
		if asset.Height == nil {
			asset.Height = &rf.image.Height
		}
	}
	return asset, up.Status(), err
}

func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, media.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, codeMediaNotConfigured, "media uploads are not configured")
		return
	}
	var pe *media.ProviderError
	if !errors.As(err, &pe) {
		h.logger.Printf("[Upload] error err=%v", err)
		writeError(w, http.StatusBadGateway, codeUploadFailed, "upload failed, try again")
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, codeUploadFailed, pe.Message)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, codeUploadFailed, pe.Message)
	case pe.Temporary():
		writeError(w, http.StatusServiceUnavailable, codeUploadFailed, pe.Message)
	default:
		writeError(w, http.StatusBadGateway, codeUploadFailed, pe.Message)
	}
}

func (h *Handler) mediaReady(w http.ResponseWriter) bool {
	if h.media == nil {
		writeError(w, http.StatusServiceUnavailable, codeMediaNotConfigured, "media uploads are not configured")
		return false
	}
	return true
}

var uploadFolders = map[string]bool{"avatars": true, "posts": true, "messages": true, "uploads": true}

type uploadResponse struct {
	Asset        media.Asset     `json:"asset"`
	ThumbnailURL string          `json:"thumbnailUrl,omitempty"`
	Upload       progress.Status `json:"upload"`
}

// CreateUpload is the generic single-file upload used for avatars and post media.
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok || !h.mediaReady(w) || !h.allow(w, r, ratelimit.FeatureUpload, uid) {
		return
	}
	folder := strings.TrimSpace(r.URL.Query().Get("folder"))
	if folder == "" {
		folder = "uploads"
	}
	if !uploadFolders[folder] {
		badRequest(w, "folder must be one of avatars, posts, messages, uploads")
		return
	}

	rf, done, ok := h.receiveFile(w, r, "")
	if !ok {
		return
	}
	defer done()

	asset, status, err := h.upload(r.Context(), uid, rf, "users/"+uid+"/"+folder)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	resp := uploadResponse{Asset: asset, Upload: status}
	if asset.Kind == media.KindVideo {
		resp.ThumbnailURL = h.thumbs.ThumbnailURL(asset.AssetID, media.DefaultThumbnailSeconds)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h.tracker.ForOwner(uid)})
}

// GetUpload reports real byte progress. Another user's upload reads as not found.
func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	up, found := h.tracker.Get(pathVar(r, "uploadId"))
	if !found || up.Owner != uid {
		writeError(w, http.StatusNotFound, codeNotFound, "upload not found")
		return
	}
	writeJSON(w, http.StatusOK, up.Status())
}

func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	id := pathVar(r, "uploadId")
	err := h.tracker.Cancel(uid, id)
	if errors.Is(err, progress.ErrUnknownUpload) || errors.Is(err, progress.ErrNotOwner) {
		writeError(w, http.StatusNotFound, codeNotFound, "upload not found")
		return
	}
	h.logger.Printf("[Upload][Cancel] id=%s user=%s", id, uid)
	if up, found := h.tracker.Get(id); found {
		writeJSON(w, http.StatusOK, up.Status())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
