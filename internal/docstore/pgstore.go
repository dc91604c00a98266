package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PGStore keeps documents in public.documents. Field paths are always bound as
// text[] parameters; nothing caller-supplied is interpolated into SQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const docColumns = `id, collection, parent, data, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var data []byte
	if err := row.Scan(&d.ID, &d.Collection, &d.Parent, &data, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Document{}, err
	}
	d.Data = json.RawMessage(data)
	return d, nil
}

func (s *PGStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if s == nil || s.db == nil {
		return Document{}, fmt.Errorf("docstore: database not configured")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+docColumns+` FROM public.documents WHERE collection = $1 AND id = $2`, collection, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("docstore: get %s/%s: %w", collection, id, err)
	}
	return d, nil
}

func (s *PGStore) Create(ctx context.Context, collection, parent, id string, data any) (Document, error) {
	if s == nil || s.db == nil {
		return Document{}, fmt.Errorf("docstore: database not configured")
	}
	body, err := encodeData(data)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(id) == "" {
		id = NewID()
	}
	d := Document{ID: id, Collection: collection, Parent: parent, Data: body}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO public.documents (collection, id, parent, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW(), NOW())
		RETURNING created_at, updated_at
	`, collection, id, parent, string(body)).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Document{}, ErrAlreadyExists
		}
		return Document{}, fmt.Errorf("docstore: create %s/%s: %w", collection, id, err)
	}
	return d, nil
}

func (s *PGStore) Set(ctx context.Context, collection, parent, id string, data any, merge bool) (Document, error) {
	if s == nil || s.db == nil {
		return Document{}, fmt.Errorf("docstore: database not configured")
	}
	body, err := encodeData(data)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Document{}, fmt.Errorf("docstore: set without id")
	}
	next := "EXCLUDED.data"
	if merge {
		next = "public.documents.data || EXCLUDED.data"
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO public.documents (collection, id, parent, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW(), NOW())
		ON CONFLICT (collection, id) DO UPDATE SET
		  data = `+next+`,
		  parent = EXCLUDED.parent,
		  updated_at = NOW()
		RETURNING `+docColumns, collection, id, parent, string(body))
	d, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: set %s/%s: %w", collection, id, err)
	}
	return d, nil
}

// Update applies all field updates in a single statement, so increments are atomic.
func (s *PGStore) Update(ctx context.Context, collection, id string, updates ...FieldUpdate) (Document, error) {
	return s.UpdateWhere(ctx, collection, id, nil, updates...)
}

// UpdateWhere is Update guarded by conds, evaluated in the same statement.
func (s *PGStore) UpdateWhere(ctx context.Context, collection, id string, conds []Filter, updates ...FieldUpdate) (Document, error) {
	if s == nil || s.db == nil {
		return Document{}, fmt.Errorf("docstore: database not configured")
	}
	if err := validateUpdates(updates); err != nil {
		return Document{}, err
	}
	if err := validateFilters(conds); err != nil {
		return Document{}, err
	}
	args := []any{collection, id}
	expr := "data"
	for _, u := range updates {
		args = append(args, pq.Array(splitPath(u.Path)))
		p := len(args)
		switch u.op {
		case updSet:
			b, err := json.Marshal(u.value)
			if err != nil {
				return Document{}, fmt.Errorf("docstore: encode %s: %w", u.Path, err)
			}
			args = append(args, string(b))
			expr = fmt.Sprintf("public.docstore_set_path(%s, $%d::text[], $%d::jsonb)", expr, p, p+1)
		case updIncrement:
			args = append(args, u.value)
			expr = fmt.Sprintf("public.docstore_set_path(%s, $%d::text[], to_jsonb(COALESCE((data #>> $%d::text[])::numeric, 0) + $%d::numeric))", expr, p, p, p+1)
		case updAppend:
			b, err := json.Marshal(u.value)
			if err != nil {
				return Document{}, fmt.Errorf("docstore: encode %s: %w", u.Path, err)
			}
			args = append(args, string(b))
			expr = fmt.Sprintf("public.docstore_set_path(%s, $%d::text[], COALESCE(data #> $%d::text[], '[]'::jsonb) || jsonb_build_array($%d::jsonb))", expr, p, p, p+1)
		case updDelete:
			expr = fmt.Sprintf("(%s #- $%d::text[])", expr, p)
		}
	}
	where := "collection = $1 AND id = $2"
	for _, f := range conds {
		var clause string
		var err error
		args, clause, err = appendFilter(args, f)
		if err != nil {
			return Document{}, err
		}
		where += " AND " + clause
	}
	row := s.db.QueryRowContext(ctx, `UPDATE public.documents SET data = `+expr+`, updated_at = NOW() WHERE `+where+` RETURNING `+docColumns, args...)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		if len(conds) == 0 {
			return Document{}, ErrNotFound
		}
		if _, gerr := s.Get(ctx, collection, id); gerr != nil {
			return Document{}, gerr
		}
		return Document{}, ErrPreconditionFailed
	}
	if err != nil {
		return Document{}, fmt.Errorf("docstore: update %s/%s: %w", collection, id, err)
	}
	return d, nil
}

func (s *PGStore) Delete(ctx context.Context, collection, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("docstore: database not configured")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM public.documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("docstore: database not configured")
	}
	stmt, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("docstore: scan %s: %w", q.Collection, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: query %s: %w", q.Collection, err)
	}
	return out, nil
}

func buildSelect(q Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	args := []any{q.Collection}
	where := []string{"collection = $1"}
	if q.Parent != "" {
		args = append(args, q.Parent)
		where = append(where, fmt.Sprintf("parent = $%d", len(args)))
	}
	for _, f := range q.Filters {
		var clause string
		var err error
		args, clause, err = appendFilter(args, f)
		if err != nil {
			return "", nil, err
		}
		where = append(where, clause)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + docColumns + ` FROM public.documents WHERE `)
	b.WriteString(strings.Join(where, " AND "))
	if q.OrderBy != nil {
		args = append(args, pq.Array(splitPath(q.OrderBy.Path)))
		dir := "ASC"
		if q.OrderBy.Desc {
			dir = "DESC"
		}
		kind := q.OrderBy.Kind
		if kind == "" {
			kind = KindText
		}
		fmt.Fprintf(&b, " ORDER BY %s %s NULLS LAST, id ASC", castField(len(args), kind), dir)
	} else {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args, nil
}

// appendFilter adds f's parameters to args and returns its WHERE clause.
func appendFilter(args []any, f Filter) ([]any, string, error) {
	args = append(args, pq.Array(splitPath(f.Path)))
	p := len(args)
	switch f.Op {
	case OpEq:
		if f.Value == nil {
			return args, fmt.Sprintf("COALESCE(data #> $%d::text[], 'null'::jsonb) = 'null'::jsonb", p), nil
		}
		b, err := json.Marshal(f.Value)
		if err != nil {
			return nil, "", fmt.Errorf("docstore: encode filter %s: %w", f.Path, err)
		}
		args = append(args, string(b))
		return args, fmt.Sprintf("(data #> $%d::text[]) = $%d::jsonb", p, p+1), nil
	case OpArrayContains:
		b, err := json.Marshal([]any{f.Value})
		if err != nil {
			return nil, "", fmt.Errorf("docstore: encode filter %s: %w", f.Path, err)
		}
		args = append(args, string(b))
		return args, fmt.Sprintf("(data #> $%d::text[]) @> $%d::jsonb", p, p+1), nil
	}
	kind := kindOf(f.Value)
	args = append(args, sqlValue(f.Value))
	return args, fmt.Sprintf("%s %s $%d::%s", castField(p, kind), string(f.Op), p+1, sqlType(kind)), nil
}

func castField(param int, kind Kind) string {
	field := fmt.Sprintf("(data #>> $%d::text[])", param)
	switch kind {
	case KindNumber:
		return field + "::numeric"
	case KindTime:
		return field + "::timestamptz"
	case KindBool:
		return field + "::boolean"
	default:
		return field + ` COLLATE "C"`
	}
}

func sqlType(kind Kind) string {
	switch kind {
	case KindNumber:
		return "numeric"
	case KindTime:
		return "timestamptz"
	case KindBool:
		return "boolean"
	default:
		return "text"
	}
}

func sqlValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case json.Number:
		return t.String()
	default:
		return v
	}
}
