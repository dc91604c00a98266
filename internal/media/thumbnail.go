package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/metrics"
)

// DefaultThumbnailSeconds is the frame offset used for content-library videos.
const DefaultThumbnailSeconds = 1

// ThumbnailDeriver builds thumbnail URLs for uploaded videos.
type ThumbnailDeriver interface {
	ThumbnailURL(assetID string, seconds float64) string
}

// Deriver builds URLs of the form
// https://<host>/<cloud>/video/upload/so_<t>,w_320,h_180,c_scale,f_jpg/<assetId>.
// Nothing is fetched; the provider renders the frame when the URL is loaded.
type Deriver struct {
	Host      string
	CloudName string
	Metrics   *metrics.Metrics
}

func NewDeriver(cfg Config, m *metrics.Metrics) Deriver {
	host := strings.TrimSpace(cfg.DeliveryHost)
	if host == "" {
		host = "res.cloudinary.com"
	}
	return Deriver{Host: host, CloudName: cfg.CloudName, Metrics: m}
}

// ThumbnailURL returns "" for a blank asset id rather than a URL that would 404.
// A negative offset falls back to DefaultThumbnailSeconds.
func (d Deriver) ThumbnailURL(assetID string, seconds float64) string {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" || d.CloudName == "" {
		return ""
	}
	if seconds < 0 {
		seconds = DefaultThumbnailSeconds
	}
	d.Metrics.ThumbnailDerived()
	return fmt.Sprintf("https://%s/%s/video/upload/so_%s,w_320,h_180,c_scale,f_jpg/%s",
		d.Host, d.CloudName, strconv.FormatFloat(seconds, 'f', -1, 64), assetID)
}
