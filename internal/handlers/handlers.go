package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/PortNumber53/creator-studio/internal/config"
	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/idem"
	"github.com/PortNumber53/creator-studio/internal/livequery"
	"github.com/PortNumber53/creator-studio/internal/media"
	"github.com/PortNumber53/creator-studio/internal/metrics"
	"github.com/PortNumber53/creator-studio/internal/notify"
	"github.com/PortNumber53/creator-studio/internal/progress"
	"github.com/PortNumber53/creator-studio/internal/ratelimit"
)

// Uploader is the media provider client. *media.Client implements it.
type Uploader interface {
	Upload(ctx context.Context, req media.UploadRequest) (media.Asset, error)
}

// Deps is everything the feature handlers need. It is built once in main.
// Nil Media, Checkout, Limits, Idem or Notifier switch the matching feature off.
type Deps struct {
	Store    docstore.Store
	Hub      *livequery.Hub
	Media    Uploader
	Thumbs   media.ThumbnailDeriver
	Tracker  *progress.Tracker
	Limits   *ratelimit.Limits
	Idem     *idem.Guard
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Checkout CheckoutCreator
	Ledger   EventLedger
	Config   config.Config
	Logger   *log.Logger
	Now      func() time.Time
}

type Handler struct {
	store    docstore.Store
	hub      *livequery.Hub
	media    Uploader
	thumbs   media.ThumbnailDeriver
	tracker  *progress.Tracker
	limits   *ratelimit.Limits
	idem     *idem.Guard
	notifier notify.Notifier
	metrics  *metrics.Metrics
	checkout CheckoutCreator
	ledger   EventLedger
	cfg      config.Config
	logger   *log.Logger
	now      func() time.Time

	diagTimeout time.Duration
	wsWriteWait time.Duration
}

func New(d Deps) *Handler {
	h := &Handler{
		store:    d.Store,
		hub:      d.Hub,
		media:    d.Media,
		thumbs:   d.Thumbs,
		tracker:  d.Tracker,
		limits:   d.Limits,
		idem:     d.Idem,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		checkout: d.Checkout,
		ledger:   d.Ledger,
		cfg:      d.Config,
		logger:   d.Logger,
		now:      d.Now,

		diagTimeout: 10 * time.Second,
		wsWriteWait: 10 * time.Second,
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.tracker == nil {
		h.tracker = progress.NewTracker()
	}
	if h.thumbs == nil {
		h.thumbs = media.NewDeriver(h.cfg.Media, h.metrics)
	}
	if h.notifier == nil {
		h.notifier = notify.Log{Logger: h.logger}
	}
	if h.ledger == nil && h.store != nil {
		h.ledger = DocLedger{Store: h.store}
	}
	if h.hub == nil && h.store != nil {
		var feed docstore.Feed
		if f, ok := h.store.(docstore.Feed); ok {
			feed = f
		}
		h.hub = livequery.NewHub(h.store, feed, livequery.Options{Logger: h.logger, Metrics: h.metrics})
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
