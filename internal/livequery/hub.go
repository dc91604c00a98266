// Package livequery re-runs document queries whenever the store reports a
// relevant change and pushes the full result set to every consumer.
//
// Consumers of equal queries share one watch; the watch is opened by the first
// consumer and closed when the last one unsubscribes.
package livequery

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/metrics"
)

type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateActive
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateErrored:
		return "errored"
	default:
		return "unsubscribed"
	}
}

// Snapshot is the complete current result set of a query, or the error that ended the watch.
type Snapshot struct {
	Docs []docstore.Document
	Err  error
	At   time.Time
}

type Querier interface {
	Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error)
}

type Options struct {
	Logger       *log.Logger
	Metrics      *metrics.Metrics
	FetchTimeout time.Duration
}

type Hub struct {
	store Querier
	feed  docstore.Feed
	opts  Options

	mu      sync.Mutex
	watches map[string]*watch
}

func NewHub(store Querier, feed docstore.Feed, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Hub{store: store, feed: feed, opts: opts, watches: make(map[string]*watch)}
}

type watch struct {
	hub *Hub
	key string
	q   docstore.Query

	// guarded by hub.mu
	subs     map[*Subscription]struct{}
	last     *Snapshot
	gen      uint64
	failure  *Snapshot // the error that closed the watch
	closed   bool
	stopFeed func()

	kick  chan struct{}
	joins chan *Subscription
	done  chan struct{}
}

// Subscription is one consumer's handle on a shared watch.
type Subscription struct {
	w     *watch
	cb    func(Snapshot)
	state atomic.Int32
	once  sync.Once

	// mu is held by deliver from the state check until the callback returns.
	mu         sync.Mutex
	inCallback atomic.Bool
	seen       uint64 // last delivered generation; guarded by mu
}

// Subscribe attaches cb to the watch for q, opening it if needed. cb runs on the
// watch goroutine and must not block for long. Invocations for one
// subscription never overlap.
func (h *Hub) Subscribe(q docstore.Query, cb func(Snapshot)) (*Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, errors.New("livequery: nil callback")
	}

	h.mu.Lock()
	key := q.Key()
	w := h.watches[key]
	opened := false
	if w == nil {
		w = &watch{
			hub:   h,
			key:   key,
			q:     q,
			subs:  make(map[*Subscription]struct{}),
			kick:  make(chan struct{}, 1),
			joins: make(chan *Subscription),
			done:  make(chan struct{}),
		}
		if h.feed != nil {
			w.stopFeed = h.feed.Subscribe(w.onChange)
		}
		h.watches[key] = w
		opened = true
	}
	sub := &Subscription{w: w, cb: cb}
	sub.state.Store(int32(StateSubscribing))
	w.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.opts.Metrics.ConsumerDelta(1)
	if opened {
		h.opts.Metrics.WatchOpened()
		h.opts.Logger.Printf("[LiveQuery][Open] collection=%s key=%s", q.Collection, key)
		go w.loop()
		w.trigger()
		return sub, nil
	}
	select {
	case w.joins <- sub:
	case <-w.done:
		// The watch failed while we were joining; report that instead of silence.
		h.mu.Lock()
		failure, gen := w.failure, w.gen
		h.mu.Unlock()
		if failure != nil {
			go w.deliver(sub, *failure, gen)
		}
	}
	return sub, nil
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Unsubscribe detaches the consumer. It is safe to call more than once and from
// inside the callback. Once it returns no new callback invocation starts; an
// invocation that had already started may still be running when Unsubscribe
// is called from another goroutine.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.stop()
		w := s.w
		h := w.hub
		h.mu.Lock()
		if _, ok := w.subs[s]; ok {
			delete(w.subs, s)
			h.opts.Metrics.ConsumerDelta(-1)
		}
		if len(w.subs) == 0 {
			w.closeLocked("idle")
		}
		h.mu.Unlock()
	})
}

// stop marks the subscription unsubscribed and waits out any delivery that
// passed its state check but has not yet entered the callback.
func (s *Subscription) stop() {
	s.state.Store(int32(StateUnsubscribed))
	if s.mu.TryLock() {
		s.mu.Unlock()
		return
	}
	if s.inCallback.Load() {
		// Either we are inside the callback ourselves or it has already begun.
		return
	}
	s.mu.Lock()
	s.mu.Unlock()
}

// WatchCount reports the number of open shared watches.
func (h *Hub) WatchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watches)
}

// Consumers reports how many consumers share the watch for q.
func (h *Hub) Consumers(q docstore.Query) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w := h.watches[q.Key()]; w != nil {
		return len(w.subs)
	}
	return 0
}

// Close tears down every watch. Consumers receive no further callbacks.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watches {
		for s := range w.subs {
			s.stop()
		}
		w.closeLocked("shutdown")
	}
}

// closeLocked requires hub.mu.
func (w *watch) closeLocked(reason string) {
	if w.closed {
		return
	}
	w.closed = true
	if cur := w.hub.watches[w.key]; cur == w {
		delete(w.hub.watches, w.key)
	}
	close(w.done)
	if w.stopFeed != nil {
		w.stopFeed()
	}
	w.hub.opts.Metrics.WatchClosed()
	w.hub.opts.Logger.Printf("[LiveQuery][Close] collection=%s reason=%s", w.q.Collection, reason)
}

func (w *watch) onChange(c docstore.Change) {
	if c.Collection != docstore.ResyncAll {
		if c.Collection != w.q.Collection {
			return
		}
		if w.q.Parent != "" && c.Parent != w.q.Parent {
			return
		}
	}
	w.trigger()
}

// trigger coalesces change bursts into a single pending re-fetch.
func (w *watch) trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *watch) loop() {
	h := w.hub
	for {
		select {
		case <-w.done:
			return
		case sub := <-w.joins:
			h.mu.Lock()
			last := w.last
			gen := w.gen
			h.mu.Unlock()
			if last != nil {
				w.deliver(sub, *last, gen)
			}
		case <-w.kick:
			snap := w.fetch()
			h.mu.Lock()
			if w.closed {
				h.mu.Unlock()
				return
			}
			w.gen++
			gen := w.gen
			if snap.Err == nil {
				w.last = &snap
			} else {
				w.failure = &snap
			}
			subs := make([]*Subscription, 0, len(w.subs))
			for s := range w.subs {
				subs = append(subs, s)
			}
			h.mu.Unlock()

			for _, s := range subs {
				w.deliver(s, snap, gen)
			}
			if snap.Err != nil {
				h.opts.Logger.Printf("[LiveQuery][Error] collection=%s consumers=%d err=%v", w.q.Collection, len(subs), snap.Err)
				h.mu.Lock()
				for s := range w.subs {
					s.state.CompareAndSwap(int32(StateActive), int32(StateErrored))
					s.state.CompareAndSwap(int32(StateSubscribing), int32(StateErrored))
				}
				w.closeLocked("error")
				h.mu.Unlock()
				return
			}
		}
	}
}

func (w *watch) fetch() Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), w.hub.opts.FetchTimeout)
	defer cancel()
	docs, err := w.hub.store.Query(ctx, w.q)
	return Snapshot{Docs: docs, Err: err, At: time.Now().UTC()}
}

func (w *watch) deliver(s *Subscription, snap Snapshot, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.seen {
		return
	}
	switch State(s.state.Load()) {
	case StateUnsubscribed:
		return
	case StateErrored:
		// Only the error itself still reaches an errored consumer.
		if snap.Err == nil {
			return
		}
	}
	s.seen = gen
	if snap.Err != nil {
		s.state.CompareAndSwap(int32(StateSubscribing), int32(StateErrored))
		s.state.CompareAndSwap(int32(StateActive), int32(StateErrored))
	} else {
		s.state.CompareAndSwap(int32(StateSubscribing), int32(StateActive))
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	// Unsubscribe stores the state before looking at inCallback.
	if State(s.state.Load()) == StateUnsubscribed {
		return
	}
	s.cb(snap)
	w.hub.opts.Metrics.Delivered(w.q.Collection, snap.Err)
}

// SubscribeTyped decodes documents once at the boundary. Documents that fail to
// decode are logged and left out of the result; they are never patched with
// placeholder values.
func SubscribeTyped[T any](h *Hub, q docstore.Query, decode func(docstore.Document) (T, error), cb func([]T, error)) (*Subscription, error) {
	if decode == nil || cb == nil {
		return nil, errors.New("livequery: nil decode or callback")
	}
	return h.Subscribe(q, func(s Snapshot) {
		if s.Err != nil {
			cb(nil, s.Err)
			return
		}
		out := make([]T, 0, len(s.Docs))
		for _, d := range s.Docs {
			v, err := decode(d)
			if err != nil {
				h.opts.Logger.Printf("[LiveQuery][Decode] collection=%s id=%s err=%v", d.Collection, d.ID, err)
				continue
			}
			out = append(out, v)
		}
		cb(out, nil)
	})
}
