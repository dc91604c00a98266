package media

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

const (
	MaxImageBytes int64 = 50 << 20
	MaxVideoBytes int64 = 500 << 20
)

var imageTypes = map[string]bool{
	"image/jpeg":               true,
	"image/jpg":                true,
	"image/pjpeg":              true,
	"image/png":                true,
	"image/apng":               true,
	"image/gif":                true,
	"image/webp":               true,
	"image/bmp":                true,
	"image/x-ms-bmp":           true,
	"image/tiff":               true,
	"image/svg+xml":            true,
	"image/heic":               true,
	"image/heif":               true,
	"image/avif":               true,
	"image/jp2":                true,
	"image/jxl":                true,
	"image/x-icon":             true,
	"image/vnd.microsoft.icon": true,
}

var videoTypes = map[string]bool{
	"video/mp4":        true,
	"video/mpeg":       true,
	"video/quicktime":  true,
	"video/webm":       true,
	"video/ogg":        true,
	"video/x-msvideo":  true,
	"video/avi":        true,
	"video/x-matroska": true,
	"video/x-flv":      true,
	"video/x-ms-wmv":   true,
	"video/3gpp":       true,
	"video/3gpp2":      true,
	"video/mp2t":       true,
	"video/x-m4v":      true,
	"video/h264":       true,
	"video/h265":       true,
}

// FileMeta is what the validator needs to know about a candidate upload.
type FileMeta struct {
	Filename    string
	ContentType string
	Size        int64
}

// ValidationError rejects a file before any network call.
type ValidationError struct {
	Reason  string // unsupported_format | too_large | empty | wrong_kind | corrupt
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NormalizeContentType strips parameters and falls back to the file extension.
func NormalizeContentType(contentType, filename string) string {
	ct := strings.TrimSpace(contentType)
	if ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			ct = parsed
		}
	}
	ct = strings.ToLower(ct)
	if ct == "" || ct == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
			if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
				return strings.ToLower(parsed)
			}
		}
	}
	return ct
}

func KindOf(contentType string) (Kind, bool) {
	switch {
	case imageTypes[contentType]:
		return KindImage, true
	case videoTypes[contentType]:
		return KindVideo, true
	}
	return "", false
}

func Limit(k Kind) int64 {
	if k == KindVideo {
		return MaxVideoBytes
	}
	return MaxImageBytes
}

// Validate checks the allow-lists and the per-kind size ceiling.
func Validate(f FileMeta) (Kind, error) {
	ct := NormalizeContentType(f.ContentType, f.Filename)
	kind, ok := KindOf(ct)
	if !ok {
		if ct == "" {
			ct = "unknown"
		}
		return "", &ValidationError{Reason: "unsupported_format", Message: fmt.Sprintf("unsupported format: %s", ct)}
	}
	if f.Size <= 0 {
		return "", &ValidationError{Reason: "empty", Message: "file is empty"}
	}
	if f.Size > Limit(kind) {
		return "", &ValidationError{
			Reason:  "too_large",
			Message: fmt.Sprintf("%s exceeds the %dMB limit", kind, Limit(kind)>>20),
		}
	}
	return kind, nil
}

// ValidateAs is Validate restricted to one kind.
func ValidateAs(f FileMeta, want Kind) (Kind, error) {
	kind, err := Validate(f)
	if err != nil {
		return "", err
	}
	if kind != want {
		return "", &ValidationError{Reason: "wrong_kind", Message: fmt.Sprintf("expected %s file, got %s", want, kind)}
	}
	return kind, nil
}
