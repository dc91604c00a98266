package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Op string

const (
	OpEq            Op = "=="
	OpArrayContains Op = "array-contains"
	OpLt            Op = "<"
	OpLte           Op = "<="
	OpGt            Op = ">"
	OpGte           Op = ">="
)

// Kind tells the backends how to compare a field when ordering or range filtering.
type Kind string

const (
	KindText   Kind = "text"
	KindNumber Kind = "number"
	KindTime   Kind = "time"
	KindBool   Kind = "bool"
)

// Filter compares the field at Path with Value. OpEq against a nil Value
// matches a null field as well as an absent one.
type Filter struct {
	Path  string
	Op    Op
	Value any
}

type Order struct {
	Path string
	Desc bool
	Kind Kind
}

// Query selects documents of one collection. Filters are ANDed.
type Query struct {
	Collection string
	Parent     string
	Filters    []Filter
	OrderBy    *Order
	Limit      int
}

// ValidPath reports whether p is a dotted field path like "unreadCount.u1".
// Segments that are not plain identifiers are backquoted, as Path writes them.
func ValidPath(p string) bool {
	_, ok := parsePath(p)
	return ok
}

// Path joins segments into a field path, quoting any segment that holds
// characters other than letters, digits, '_' and '-'.
func Path(segments ...string) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		if plainSegment(seg) {
			parts[i] = seg
			continue
		}
		parts[i] = "`" + segmentEscaper.Replace(seg) + "`"
	}
	return strings.Join(parts, ".")
}

var segmentEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`")

func plainByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

func plainSegment(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !plainByte(s[i]) {
			return false
		}
	}
	return true
}

func parsePath(p string) ([]string, bool) {
	var segs []string
	i := 0
	for {
		if i >= len(p) {
			return nil, false
		}
		var seg strings.Builder
		if p[i] == '`' {
			i++
			closed := false
			for i < len(p) {
				c := p[i]
				if c == '\\' && i+1 < len(p) {
					seg.WriteByte(p[i+1])
					i += 2
					continue
				}
				i++
				if c == '`' {
					closed = true
					break
				}
				seg.WriteByte(c)
			}
			if !closed || seg.Len() == 0 {
				return nil, false
			}
		} else {
			start := i
			for i < len(p) && plainByte(p[i]) {
				i++
			}
			if i == start {
				return nil, false
			}
			seg.WriteString(p[start:i])
		}
		segs = append(segs, seg.String())
		if i == len(p) {
			return segs, true
		}
		if p[i] != '.' {
			return nil, false
		}
		i++
	}
}

// splitPath expects a path that passed ValidPath.
func splitPath(p string) []string {
	segs, _ := parsePath(p)
	return segs
}

func Where(path string, op Op, value any) Filter {
	return Filter{Path: path, Op: op, Value: value}
}

func (q Query) Where(path string, op Op, value any) Query {
	out := q
	out.Filters = append(append([]Filter(nil), q.Filters...), Filter{Path: path, Op: op, Value: value})
	return out
}

func (q Query) Sort(path string, kind Kind, desc bool) Query {
	out := q
	out.OrderBy = &Order{Path: path, Kind: kind, Desc: desc}
	return out
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("docstore: query without collection")
	}
	if err := validateFilters(q.Filters); err != nil {
		return err
	}
	if q.OrderBy != nil {
		if !ValidPath(q.OrderBy.Path) {
			return fmt.Errorf("%w: %q", ErrInvalidPath, q.OrderBy.Path)
		}
		switch q.OrderBy.Kind {
		case "", KindText, KindNumber, KindTime, KindBool:
		default:
			return fmt.Errorf("docstore: unknown sort kind %q", q.OrderBy.Kind)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("docstore: negative limit")
	}
	return nil
}

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		if !ValidPath(f.Path) {
			return fmt.Errorf("%w: %q", ErrInvalidPath, f.Path)
		}
		switch f.Op {
		case OpEq, OpArrayContains, OpLt, OpLte, OpGt, OpGte:
		default:
			return fmt.Errorf("docstore: unknown operator %q", f.Op)
		}
	}
	return nil
}

// Key is a canonical string for the query; equal queries share a key.
func (q Query) Key() string {
	type keyFilter struct {
		P string `json:"p"`
		O Op     `json:"o"`
		V any    `json:"v"`
	}
	k := struct {
		C string      `json:"c"`
		P string      `json:"p,omitempty"`
		F []keyFilter `json:"f,omitempty"`
		O *Order      `json:"o,omitempty"`
		L int         `json:"l,omitempty"`
	}{C: q.Collection, P: q.Parent, O: q.OrderBy, L: q.Limit}
	for _, f := range q.Filters {
		k.F = append(k.F, keyFilter{P: f.Path, O: f.Op, V: f.Value})
	}
	b, err := json.Marshal(k)
	if err != nil {
		return fmt.Sprintf("%s|%s|%v|%v|%d", q.Collection, q.Parent, q.Filters, q.OrderBy, q.Limit)
	}
	return string(b)
}

// kindOf infers a comparison kind from a Go filter value.
func kindOf(v any) Kind {
	switch v.(type) {
	case time.Time, *time.Time:
		return KindTime
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return KindNumber
	case bool:
		return KindBool
	default:
		return KindText
	}
}

type updateOp int

const (
	updSet updateOp = iota
	updIncrement
	updAppend
	updDelete
)

// FieldUpdate is one targeted write inside Update.
type FieldUpdate struct {
	Path  string
	op    updateOp
	value any
}

func Set(path string, value any) FieldUpdate {
	return FieldUpdate{Path: path, op: updSet, value: value}
}

// Increment adds n to a numeric field, treating a missing field as zero.
func Increment(path string, n float64) FieldUpdate {
	return FieldUpdate{Path: path, op: updIncrement, value: n}
}

// ArrayAppend appends value to an array field, creating it when missing.
func ArrayAppend(path string, value any) FieldUpdate {
	return FieldUpdate{Path: path, op: updAppend, value: value}
}

func DeleteField(path string) FieldUpdate {
	return FieldUpdate{Path: path, op: updDelete}
}

func validateUpdates(updates []FieldUpdate) error {
	if len(updates) == 0 {
		return fmt.Errorf("docstore: no field updates")
	}
	for _, u := range updates {
		if !ValidPath(u.Path) {
			return fmt.Errorf("%w: %q", ErrInvalidPath, u.Path)
		}
	}
	return nil
}
