package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/metrics"
	"github.com/PortNumber53/creator-studio/internal/models"
)

// ClaimReleaser returns scheduled posts to the queue when the external
// publisher claimed them but never reported them published.
type ClaimReleaser struct {
	Store    docstore.Store
	TTL      time.Duration // how long a claim may stay unpublished (default: 15m)
	Interval time.Duration // how often to scan (default: 1m)
	Batch    int           // max posts released per scan (default: 100)
	Metrics  *metrics.Metrics
	Logger   *log.Logger
	Now      func() time.Time
}

func (w *ClaimReleaser) ensureDefaults() {
	if w.TTL <= 0 {
		w.TTL = 15 * time.Minute
	}
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}
	if w.Batch <= 0 {
		w.Batch = 100
	}
	if w.Logger == nil {
		w.Logger = log.Default()
	}
	if w.Now == nil {
		w.Now = time.Now
	}
}

// Start runs the release loop until ctx is canceled.
func (w *ClaimReleaser) Start(ctx context.Context) {
	w.ensureDefaults()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Logger.Printf("[ClaimReleaser] started (ttl=%s, interval=%s)", w.TTL, w.Interval)
	for {
		select {
		case <-ctx.Done():
			w.Logger.Printf("[ClaimReleaser] stopped")
			return
		case <-ticker.C:
			if _, err := w.ReleaseStale(ctx); err != nil {
				w.Logger.Printf("[ClaimReleaser] error: %v", err)
			}
		}
	}
}

// ReleaseStale clears claimId/claimedAt on posts claimed longer than TTL ago.
// Each release is conditional on the claim being unchanged, so a publisher
// that reports success at the same moment wins.
func (w *ClaimReleaser) ReleaseStale(ctx context.Context) (int, error) {
	w.ensureDefaults()
	cutoff := w.Now().UTC().Add(-w.TTL)
	q := docstore.Query{Collection: models.CollectionScheduledPosts, Limit: w.Batch}.
		Where("status", docstore.OpEq, models.ScheduledStatusScheduled).
		Where("claimedAt", docstore.OpLte, cutoff)
	docs, err := w.Store.Query(ctx, q)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, d := range docs {
		sp, err := models.DecodeScheduledPost(d)
		if err != nil {
			w.Logger.Printf("[ClaimReleaser] skip id=%s err=%v", d.ID, err)
			continue
		}
		if sp.ClaimID == "" {
			continue
		}
		conds := []docstore.Filter{
			docstore.Where("status", docstore.OpEq, models.ScheduledStatusScheduled),
			docstore.Where("claimId", docstore.OpEq, sp.ClaimID),
		}
		_, err = w.Store.UpdateWhere(ctx, models.CollectionScheduledPosts, d.ID, conds,
			docstore.Set("claimId", ""),
			docstore.DeleteField("claimedAt"),
		)
		switch {
		case err == nil:
			released++
			w.Logger.Printf("[ClaimReleaser] released id=%s claimId=%s", d.ID, sp.ClaimID)
		case errors.Is(err, docstore.ErrPreconditionFailed), errors.Is(err, docstore.ErrNotFound):
		default:
			return released, err
		}
	}
	w.Metrics.Released(released)
	return released, nil
}
