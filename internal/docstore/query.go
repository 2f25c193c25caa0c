package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FieldID filters or orders by the document ID rather than a body field.
const FieldID = "__id__"

// Op is a filter operator.
type Op string

const (
	Eq       Op = "=="
	Contains Op = "array-contains"
	Gt       Op = ">"
	Gte      Op = ">="
	Lt       Op = "<"
	Lte      Op = "<="
)

// Filter is a single field condition.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of one collection. Build it with From.
type Query struct {
	Collection string
	Filters    []Filter
	OrderField string
	Descending bool
	Max        int
}

// From starts a query over collection.
func From(collection string) Query {
	return Query{Collection: collection}
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Op, value any) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderBy returns a copy of q ordered by field.
func (q Query) OrderBy(field string, descending bool) Query {
	q.OrderField = field
	q.Descending = descending
	return q
}

// Limit returns a copy of q returning at most n documents.
func (q Query) Limit(n int) Query {
	q.Max = n
	return q
}

// Key returns a stable string identifying the query, used to share live feeds.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		v, _ := json.Marshal(normalize(f.Value))
		fmt.Fprintf(&b, "|%s %s %s", f.Field, f.Op, v)
	}
	if q.OrderField != "" {
		fmt.Fprintf(&b, "|order %s %t", q.OrderField, q.Descending)
	}
	if q.Max > 0 {
		fmt.Fprintf(&b, "|limit %d", q.Max)
	}
	return b.String()
}

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func fieldExpr(field string) (string, error) {
	if field == FieldID {
		return "id", nil
	}
	if !fieldRe.MatchString(field) {
		return "", fmt.Errorf("docstore: invalid field name %q", field)
	}
	return "json_extract(data, '$." + field + "')", nil
}

// normalize converts filter values to the representation stored in documents.
// Instants are stored as Unix milliseconds.
func normalize(v any) any {
	switch x := v.(type) {
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UnixMilli()
	case interface{ UnixMilli() int64 }:
		return x.UnixMilli()
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return v
	}
}

func (q Query) sql() (string, []any, error) {
	var (
		where = []string{"collection = ?"}
		args  = []any{q.Collection}
	)
	for _, f := range q.Filters {
		val := normalize(f.Value)
		if f.Op == Contains {
			if !fieldRe.MatchString(f.Field) {
				return "", nil, fmt.Errorf("docstore: invalid field name %q", f.Field)
			}
			where = append(where, "EXISTS (SELECT 1 FROM json_each(data, '$."+f.Field+"') WHERE json_each.value = ?)")
			args = append(args, val)
			continue
		}
		expr, err := fieldExpr(f.Field)
		if err != nil {
			return "", nil, err
		}
		switch f.Op {
		case Eq:
			if val == nil {
				where = append(where, expr+" IS NULL")
				continue
			}
			where = append(where, expr+" = ?")
		case Gt, Gte, Lt, Lte:
			where = append(where, expr+" "+string(f.Op)+" ?")
		default:
			return "", nil, fmt.Errorf("docstore: unsupported operator %q", f.Op)
		}
		args = append(args, val)
	}

	stmt := "SELECT id, data, version, created_at, updated_at FROM documents WHERE " + strings.Join(where, " AND ")
	if q.OrderField != "" {
		expr, err := fieldExpr(q.OrderField)
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		stmt += " ORDER BY " + expr + " " + dir + ", id " + dir
	} else {
		stmt += " ORDER BY id"
	}
	if q.Max > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Max)
	}
	return stmt, args, nil
}

// Query runs q against committed state.
func (s *Store) Query(ctx context.Context, q Query) ([]Document, error) {
	stmt, args, err := q.sql()
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc := Document{Collection: q.Collection}
		var data string
		var created, updated int64
		if err := rows.Scan(&doc.ID, &data, &doc.Version, &created, &updated); err != nil {
			return nil, err
		}
		doc.Data = json.RawMessage(data)
		doc.CreateTime = time.UnixMilli(created).UTC()
		doc.UpdateTime = time.UnixMilli(updated).UTC()
		out = append(out, doc)
	}
	return out, rows.Err()
}
