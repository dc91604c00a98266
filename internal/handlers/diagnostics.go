package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/creator-studio/internal/docstore"
)

const collectionDiagnostics = "diagnostics"

type diagStep struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

type mediaPresence struct {
	Enabled         bool `json:"enabled"`
	CloudNameSet    bool `json:"cloudNameSet"`
	UploadPresetSet bool `json:"uploadPresetSet"`
	APIKeySet       bool `json:"apiKeySet"`
}

type diagReport struct {
	OK    bool          `json:"ok"`
	Steps []diagStep    `json:"steps"`
	Media mediaPresence `json:"media"`
	At    time.Time     `json:"at"`
}

type diagSample struct {
	Marker    string    `json:"marker"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

// StorageDiagnostics round-trips a sample document through the store. Each
// step gets its own timeout so a hung backend reports which step stalled.
func (h *Handler) StorageDiagnostics(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	marker := uuid.NewString()
	id := "diag-" + marker
	rep := diagReport{OK: true, At: h.now().UTC()}

	step := func(name string, fn func(ctx context.Context) error) bool {
		ctx, cancel := context.WithTimeout(r.Context(), h.diagTimeout)
		defer cancel()
		start := time.Now()
		err := fn(ctx)
		s := diagStep{Name: name, OK: err == nil, DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			s.Error = err.Error()
			if ctx.Err() == context.DeadlineExceeded {
				s.Error = "timed out after " + h.diagTimeout.String()
			}
			rep.OK = false
		}
		rep.Steps = append(rep.Steps, s)
		return err == nil
	}

	wrote := step("write", func(ctx context.Context) error {
		_, err := h.store.Create(ctx, collectionDiagnostics, "", id, diagSample{Marker: marker, Owner: uid, CreatedAt: rep.At})
		return err
	})
	if wrote {
		step("read", func(ctx context.Context) error {
			doc, err := h.store.Get(ctx, collectionDiagnostics, id)
			if err != nil {
				return err
			}
			var got diagSample
			if err := doc.DataTo(&got); err != nil {
				return err
			}
			if got.Marker != marker {
				return errMismatch
			}
			return nil
		})
		step("query", func(ctx context.Context) error {
			q := docstore.Query{Collection: collectionDiagnostics, Limit: 1}.Where("marker", docstore.OpEq, marker)
			docs, err := h.store.Query(ctx, q)
			if err != nil {
				return err
			}
			if len(docs) != 1 || docs[0].ID != id {
				return errMismatch
			}
			return nil
		})
		step("delete", func(ctx context.Context) error {
			return h.store.Delete(ctx, collectionDiagnostics, id)
		})
	}

	mc := h.cfg.Media
	rep.Media = mediaPresence{
		Enabled:         h.media != nil,
		CloudNameSet:    mc.CloudName != "",
		UploadPresetSet: mc.UploadPreset != "",
		APIKeySet:       mc.APIKey != "",
	}
	h.logger.Printf("[Diagnostics][Storage] user=%s ok=%t steps=%d", uid, rep.OK, len(rep.Steps))

	status := http.StatusOK
	if !rep.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

type diagError string

func (e diagError) Error() string { return string(e) }

const errMismatch = diagError("sample document did not round-trip")
