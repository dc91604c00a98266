package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
)

// NotifyChannel is the LISTEN channel fed by the documents_notify trigger.
const NotifyChannel = "docstore_changes"

// PGFeed turns Postgres NOTIFY events into Changes.
type PGFeed struct {
	listener *pq.Listener
	logger   *log.Logger
	fanout
}

func NewPGFeed(dsn string, logger *log.Logger) (*PGFeed, error) {
	if logger == nil {
		logger = log.Default()
	}
	f := &PGFeed{logger: logger}
	f.listener = pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			f.logger.Printf("[Docstore][Feed] connected channel=%s", NotifyChannel)
		case pq.ListenerEventDisconnected:
			f.logger.Printf("[Docstore][Feed] disconnected err=%v", err)
		case pq.ListenerEventReconnected:
			f.logger.Printf("[Docstore][Feed] reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			f.logger.Printf("[Docstore][Feed] connect_failed err=%v", err)
		}
	})
	if err := f.listener.Listen(NotifyChannel); err != nil {
		_ = f.listener.Close()
		return nil, fmt.Errorf("docstore: listen %s: %w", NotifyChannel, err)
	}
	return f, nil
}

// Run pumps notifications until ctx is done. A nil notification means the
// connection was re-established and events may have been missed, so every
// subscriber is told to resync.
func (f *PGFeed) Run(ctx context.Context) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-f.listener.Notify:
			if n == nil {
				f.publish(Change{Collection: ResyncAll})
				continue
			}
			c, err := parseNotification(n.Extra)
			if err != nil {
				f.logger.Printf("[Docstore][Feed] bad_payload err=%v payload=%q", err, n.Extra)
				continue
			}
			f.publish(c)
		case <-ping.C:
			go func() { _ = f.listener.Ping() }()
		}
	}
}

func (f *PGFeed) Close() error {
	return f.listener.Close()
}

func parseNotification(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, err
	}
	if c.Collection == "" {
		return Change{}, fmt.Errorf("missing collection")
	}
	return c, nil
}

// fanout is a minimal subscriber registry shared by the feeds.
type fanout struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Change)
}

func (f *fanout) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[int]func(Change))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

func (f *fanout) publish(c Change) {
	f.mu.Lock()
	fns := make([]func(Change), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
