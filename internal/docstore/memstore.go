package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-process Store and Feed with the same query semantics as
// PGStore. It backs STORE_DRIVER=memory and the test suites.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]memDoc
	seq  int64
	now  func() time.Time
	fanout
}

type memDoc struct {
	doc Document
	seq int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[string]memDoc),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func memKey(collection, id string) string {
	return collection + "/" + id
}

func (m *MemStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[memKey(collection, id)]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDoc(d.doc), nil
}

func (m *MemStore) Create(ctx context.Context, collection, parent, id string, data any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	body, err := encodeData(data)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(id) == "" {
		id = NewID()
	}
	m.mu.Lock()
	k := memKey(collection, id)
	if _, exists := m.docs[k]; exists {
		m.mu.Unlock()
		return Document{}, ErrAlreadyExists
	}
	now := m.now()
	m.seq++
	d := Document{ID: id, Collection: collection, Parent: parent, Data: body, CreatedAt: now, UpdatedAt: now}
	m.docs[k] = memDoc{doc: d, seq: m.seq}
	m.mu.Unlock()

	m.publish(Change{Collection: collection, ID: id, Parent: parent, Op: OpInsert})
	return cloneDoc(d), nil
}

func (m *MemStore) Set(ctx context.Context, collection, parent, id string, data any, merge bool) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	body, err := encodeData(data)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Document{}, fmt.Errorf("docstore: set without id")
	}
	m.mu.Lock()
	k := memKey(collection, id)
	now := m.now()
	existing, exists := m.docs[k]
	op := OpInsert
	if exists {
		op = OpUpdate
		if merge {
			var cur, next map[string]any
			if err := json.Unmarshal(existing.doc.Data, &cur); err != nil {
				m.mu.Unlock()
				return Document{}, fmt.Errorf("docstore: decode %s: %w", k, err)
			}
			if err := json.Unmarshal(body, &next); err != nil {
				m.mu.Unlock()
				return Document{}, fmt.Errorf("docstore: decode data: %w", err)
			}
			if cur == nil {
				cur = map[string]any{}
			}
			for key, v := range next {
				cur[key] = v
			}
			merged, err := json.Marshal(cur)
			if err != nil {
				m.mu.Unlock()
				return Document{}, fmt.Errorf("docstore: encode %s: %w", k, err)
			}
			body = merged
		}
		existing.doc.Data = body
		existing.doc.Parent = parent
		existing.doc.UpdatedAt = now
	} else {
		m.seq++
		existing = memDoc{
			doc: Document{ID: id, Collection: collection, Parent: parent, Data: body, CreatedAt: now, UpdatedAt: now},
			seq: m.seq,
		}
	}
	m.docs[k] = existing
	m.mu.Unlock()

	m.publish(Change{Collection: collection, ID: id, Parent: parent, Op: op})
	return cloneDoc(existing.doc), nil
}

func (m *MemStore) Update(ctx context.Context, collection, id string, updates ...FieldUpdate) (Document, error) {
	return m.UpdateWhere(ctx, collection, id, nil, updates...)
}

func (m *MemStore) UpdateWhere(ctx context.Context, collection, id string, conds []Filter, updates ...FieldUpdate) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if err := validateUpdates(updates); err != nil {
		return Document{}, err
	}
	if err := validateFilters(conds); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	k := memKey(collection, id)
	existing, ok := m.docs[k]
	if !ok {
		m.mu.Unlock()
		return Document{}, ErrNotFound
	}
	var body map[string]any
	if err := json.Unmarshal(existing.doc.Data, &body); err != nil {
		m.mu.Unlock()
		return Document{}, fmt.Errorf("docstore: decode %s: %w", k, err)
	}
	if body == nil {
		body = map[string]any{}
	}
	if !matchesAll(body, conds) {
		m.mu.Unlock()
		return Document{}, ErrPreconditionFailed
	}
	original := deepCopy(body)
	for _, u := range updates {
		parts := splitPath(u.Path)
		switch u.op {
		case updSet:
			setPath(body, parts, normalize(u.value))
		case updIncrement:
			cur, _ := getPath(original, parts)
			n, _ := toFloat(cur)
			setPath(body, parts, n+u.value.(float64))
		case updAppend:
			cur, _ := getPath(original, parts)
			arr, _ := cur.([]any)
			next := append(append([]any(nil), arr...), normalize(u.value))
			setPath(body, parts, next)
		case updDelete:
			deletePath(body, parts)
		}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		m.mu.Unlock()
		return Document{}, fmt.Errorf("docstore: encode %s: %w", k, err)
	}
	existing.doc.Data = encoded
	existing.doc.UpdatedAt = m.now()
	m.docs[k] = existing
	m.mu.Unlock()

	m.publish(Change{Collection: collection, ID: id, Parent: existing.doc.Parent, Op: OpUpdate})
	return cloneDoc(existing.doc), nil
}

func (m *MemStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	k := memKey(collection, id)
	existing, ok := m.docs[k]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.docs, k)
	m.mu.Unlock()

	m.publish(Change{Collection: collection, ID: id, Parent: existing.doc.Parent, Op: OpDelete})
	return nil
}

func (m *MemStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	type cand struct {
		md   memDoc
		body map[string]any
	}
	m.mu.RLock()
	cands := make([]cand, 0)
	for _, md := range m.docs {
		if md.doc.Collection != q.Collection {
			continue
		}
		if q.Parent != "" && md.doc.Parent != q.Parent {
			continue
		}
		var body map[string]any
		if err := json.Unmarshal(md.doc.Data, &body); err != nil {
			continue
		}
		if !matchesAll(body, q.Filters) {
			continue
		}
		cands = append(cands, cand{md: memDoc{doc: cloneDoc(md.doc), seq: md.seq}, body: body})
	}
	m.mu.RUnlock()

	if q.OrderBy == nil {
		sort.Slice(cands, func(i, j int) bool {
			a, b := cands[i].md, cands[j].md
			if !a.doc.CreatedAt.Equal(b.doc.CreatedAt) {
				return a.doc.CreatedAt.Before(b.doc.CreatedAt)
			}
			return a.seq < b.seq
		})
	} else {
		parts := splitPath(q.OrderBy.Path)
		kind := q.OrderBy.Kind
		if kind == "" {
			kind = KindText
		}
		sort.Slice(cands, func(i, j int) bool {
			av, aok := getPath(cands[i].body, parts)
			bv, bok := getPath(cands[j].body, parts)
			aok = aok && av != nil
			bok = bok && bv != nil
			switch {
			case aok && !bok:
				return true
			case !aok && bok:
				return false
			case aok && bok:
				if c, ok := compareKind(av, bv, kind); ok && c != 0 {
					if q.OrderBy.Desc {
						return c > 0
					}
					return c < 0
				}
			}
			return cands[i].md.doc.ID < cands[j].md.doc.ID
		})
	}

	out := make([]Document, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.md.doc)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func matchesAll(body map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := getPath(body, splitPath(f.Path))
		if !ok {
			// Equality with nil also matches an absent field.
			if f.Op == OpEq && f.Value == nil {
				continue
			}
			return false
		}
		want := normalize(f.Value)
		switch f.Op {
		case OpEq:
			if !reflect.DeepEqual(v, want) {
				return false
			}
		case OpArrayContains:
			arr, isArr := v.([]any)
			if !isArr {
				return false
			}
			found := false
			for _, el := range arr {
				if reflect.DeepEqual(el, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			c, ok := compareKind(v, want, kindOf(f.Value))
			if !ok {
				return false
			}
			switch f.Op {
			case OpLt:
				ok = c < 0
			case OpLte:
				ok = c <= 0
			case OpGt:
				ok = c > 0
			case OpGte:
				ok = c >= 0
			}
			if !ok {
				return false
			}
		}
	}
	return true
}

// compareKind compares two JSON-decoded values as the given kind.
func compareKind(a, b any, kind Kind) (int, bool) {
	switch kind {
	case KindNumber:
		x, ok1 := toFloat(a)
		y, ok2 := toFloat(b)
		if !ok1 || !ok2 {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case KindTime:
		x, ok1 := toTime(a)
		y, ok2 := toTime(b)
		if !ok1 || !ok2 {
			return 0, false
		}
		return x.Compare(y), true
	case KindBool:
		x, ok1 := a.(bool)
		y, ok2 := b.(bool)
		if !ok1 || !ok2 {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	default:
		x, ok1 := a.(string)
		y, ok2 := b.(string)
		if !ok1 || !ok2 {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		// decimal amounts are stored as JSON strings
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// normalize converts a Go value to its generic JSON-decoded form.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func deepCopy(m map[string]any) map[string]any {
	c, _ := normalize(m).(map[string]any)
	if c == nil {
		return map[string]any{}
	}
	return c
}

func getPath(m map[string]any, parts []string) (any, bool) {
	var cur any = m
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(m map[string]any, parts []string, v any) {
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = v
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
}

func deletePath(m map[string]any, parts []string) {
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(cur, p)
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}

func cloneDoc(d Document) Document {
	d.Data = append(json.RawMessage(nil), d.Data...)
	return d
}
