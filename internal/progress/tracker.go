package progress

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownUpload = errors.New("progress: unknown upload")
	ErrNotOwner      = errors.New("progress: upload belongs to another user")
)

type State string

const (
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Upload is one in-flight transfer. Sent is updated from the transport goroutine.
type Upload struct {
	ID        string
	Owner     string
	Kind      string
	Total     int64
	StartedAt time.Time

	mu       sync.Mutex
	sent     int64
	estimate int
	state    State
	errMsg   string
	finished time.Time
	cancel   context.CancelFunc
}

// Status is a point-in-time copy of an upload for JSON responses.
type Status struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	State     State  `json:"state"`
	Sent      int64  `json:"sent"`
	Total     int64  `json:"total"`
	Percent   int    `json:"percent"`
	Estimated bool   `json:"estimated,omitempty"` // Percent comes from the simulator, not bytes
	Error     string `json:"error,omitempty"`
}

// Add records n more bytes handed to the transport.
func (u *Upload) Add(n int64) {
	u.mu.Lock()
	u.sent += n
	u.mu.Unlock()
}

// SetSent records an absolute byte count.
func (u *Upload) SetSent(sent int64) {
	u.mu.Lock()
	if sent > u.sent {
		u.sent = sent
	}
	u.mu.Unlock()
}

// SetEstimate records a simulated percentage. It only shows while the
// transport has reported no bytes, and it never moves backwards.
func (u *Upload) SetEstimate(p int) {
	u.mu.Lock()
	if p > u.estimate {
		u.estimate = p
	}
	u.mu.Unlock()
}

// Percent is real progress: 100 only once finished successfully, otherwise
// capped at 99 so "all bytes sent, waiting for the provider" is distinguishable.
func (u *Upload) Percent() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.percentLocked()
}

func (u *Upload) percentLocked() int {
	if u.state == StateDone {
		return Done
	}
	if u.estimatedLocked() {
		return min(u.estimate, Ceiling)
	}
	if u.Total <= 0 {
		return 0
	}
	p := int(u.sent * 100 / u.Total)
	if p > 99 {
		p = 99
	}
	return p
}

func (u *Upload) estimatedLocked() bool {
	return u.state == StateRunning && u.sent == 0 && u.estimate > 0
}

func (u *Upload) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Status{
		ID:      u.ID,
		Kind:    u.Kind,
		State:   u.state,
		Sent:    u.sent,
		Total:   u.Total,
		Percent:   u.percentLocked(),
		Estimated: u.estimatedLocked(),
		Error:     u.errMsg,
	}
}

// Tracker registers in-flight uploads so clients can poll or cancel them.
// Finished uploads are kept for Retain so a last poll sees the outcome.
type Tracker struct {
	mu      sync.Mutex
	uploads map[string]*Upload
	now     func() time.Time
	Retain  time.Duration
}

func NewTracker() *Tracker {
	return &Tracker{uploads: map[string]*Upload{}, now: time.Now, Retain: 5 * time.Minute}
}

// Start registers an upload and returns a context that Cancel aborts.
func (t *Tracker) Start(ctx context.Context, owner, kind string, total int64) (*Upload, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	u := &Upload{
		ID:        uuid.NewString(),
		Owner:     owner,
		Kind:      kind,
		Total:     total,
		StartedAt: t.now(),
		state:     StateRunning,
		cancel:    cancel,
	}
	t.mu.Lock()
	t.pruneLocked()
	t.uploads[u.ID] = u
	t.mu.Unlock()
	return u, ctx
}

func (t *Tracker) Get(id string) (*Upload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.uploads[id]
	return u, ok
}

// Cancel aborts a running upload owned by owner. Canceling a finished upload is a no-op.
func (t *Tracker) Cancel(owner, id string) error {
	u, ok := t.Get(id)
	if !ok {
		return ErrUnknownUpload
	}
	if u.Owner != owner {
		return ErrNotOwner
	}
	u.mu.Lock()
	if u.state == StateRunning {
		u.state = StateCanceled
		u.finished = t.now()
	}
	u.mu.Unlock()
	u.cancel()
	return nil
}

// Finish records the outcome and releases the upload's context.
func (t *Tracker) Finish(id string, err error) {
	u, ok := t.Get(id)
	if !ok {
		return
	}
	u.mu.Lock()
	if u.state == StateRunning {
		switch {
		case err == nil:
			u.state = StateDone
			u.sent = u.Total
		case errors.Is(err, context.Canceled):
			u.state = StateCanceled
		default:
			u.state = StateFailed
			u.errMsg = err.Error()
		}
		u.finished = t.now()
	}
	u.mu.Unlock()
	u.cancel()
}

// ForOwner lists the owner's uploads, oldest first.
func (t *Tracker) ForOwner(owner string) []Status {
	t.mu.Lock()
	list := make([]*Upload, 0, 4)
	for _, u := range t.uploads {
		if u.Owner == owner {
			list = append(list, u)
		}
	}
	t.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	out := make([]Status, 0, len(list))
	for _, u := range list {
		out = append(out, u.Status())
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.uploads)
}

func (t *Tracker) pruneLocked() {
	cutoff := t.now().Add(-t.Retain)
	for id, u := range t.uploads {
		u.mu.Lock()
		stale := u.state != StateRunning && u.finished.Before(cutoff)
		u.mu.Unlock()
		if stale {
			delete(t.uploads, id)
		}
	}
}
