package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
)

// Stable error codes returned in the error envelope.
const (
	codeValidation         = "validation_failed"
	codeNotFound           = "not_found"
	codeForbidden          = "forbidden"
	codeConflict           = "conflict"
	codeRateLimited        = "rate_limited"
	codeUploadFailed       = "upload_failed"
	codeMediaNotConfigured = "media_not_configured"
	codeBillingDisabled    = "billing_not_configured"
	codeInternal           = "internal"
)

const maxJSONBody = 1 << 20

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON encodes v as JSON with the provided status code and a JSON content-type.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{"code","message"}}.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: msg}})
}

// pathVar returns the mux path var value (or empty string if missing).
func pathVar(r *http.Request, key string) string {
	return strings.TrimSpace(mux.Vars(r)[key])
}

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// readBody returns the raw body, capped at maxJSONBody.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("request body is required")
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxJSONBody {
		return nil, errors.New("request body too large")
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("request body is required")
	}
	return b, nil
}

func parseLimit(r *http.Request, def, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// writeStoreError maps store and validation errors onto the envelope. what
// names the thing being read or written, e.g. "post".
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, what string, err error) {
	var de *models.DecodeError
	if errors.As(err, &de) {
		h.logger.Printf("[HTTP][Decode] path=%s collection=%s id=%s err=%v", r.URL.Path, de.Collection, de.ID, de.Err)
		writeError(w, http.StatusInternalServerError, codeInternal, "stored "+what+" is invalid")
		return
	}
	if fe, ok := models.AsFieldError(err); ok {
		writeError(w, http.StatusBadRequest, codeValidation, fe.Error())
		return
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, what+" not found")
	case errors.Is(err, docstore.ErrAlreadyExists):
		writeError(w, http.StatusConflict, codeConflict, what+" already exists")
	case errors.Is(err, docstore.ErrPreconditionFailed):
		writeError(w, http.StatusConflict, codeConflict, what+" was changed by another request")
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, docstore.ErrInvalidData):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, context.Canceled):
		h.logger.Printf("[HTTP][Store] canceled path=%s what=%s", r.URL.Path, what)
		writeError(w, http.StatusServiceUnavailable, codeInternal, "request canceled")
	default:
		h.logger.Printf("[HTTP][Store] error path=%s what=%s err=%v", r.URL.Path, what, err)
		writeError(w, http.StatusInternalServerError, codeInternal, fmt.Sprintf("could not load or save %s", what))
	}
}

// caller returns the authenticated uid, writing a 401 when there is none.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := auth.UserID(r.Context())
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return "", false
	}
	return uid, true
}

func forbidden(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusForbidden, codeForbidden, msg)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, codeValidation, msg)
}

// decodeAll decodes docs, logging and skipping the ones that fail validation.
func decodeAll[T any](h *Handler, docs []docstore.Document, decode func(docstore.Document) (T, error)) []T {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := decode(d)
		if err != nil {
			h.logger.Printf("[HTTP][Decode] collection=%s id=%s err=%v", d.Collection, d.ID, err)
			continue
		}
		out = append(out, v)
	}
	return out
}
