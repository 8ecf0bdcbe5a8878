package postgres

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lib/pq"

	"chat-sync/internal/remote"
)

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// readable lists every relation a query may touch; writable the subset that
// accepts inserts and updates.
var (
	readable = map[remote.Resource]bool{
		remote.Conversations:       true,
		remote.ConversationMembers: true,
		remote.MemberProfiles:      true,
		remote.Messages:            true,
		remote.ReadMarkers:         true,
	}
	writable = map[remote.Resource]bool{
		remote.Conversations:       true,
		remote.ConversationMembers: true,
		remote.Messages:            true,
		remote.ReadMarkers:         true,
	}
)

func table(resource remote.Resource, write bool) (string, error) {
	allowed := readable
	if write {
		allowed = writable
	}
	if !allowed[resource] {
		return "", fmt.Errorf("%w: resource %q not allowed", remote.ErrRejected, resource)
	}
	return pq.QuoteIdentifier(string(resource)), nil
}

func column(name string) (string, error) {
	if !columnPattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid column %q", remote.ErrRejected, name)
	}
	return pq.QuoteIdentifier(name), nil
}

// where renders filters as a conjunction whose placeholders start at $next.
func where(filters []remote.Filter, next int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	var args []any
	for _, f := range filters {
		col, err := column(f.Column)
		if err != nil {
			return "", nil, err
		}
		switch f.Op {
		case remote.OpEq:
			if f.Value == nil {
				clauses = append(clauses, col+" IS NULL")
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, next))
		case remote.OpNeq:
			if f.Value == nil {
				clauses = append(clauses, col+" IS NOT NULL")
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s IS DISTINCT FROM $%d", col, next))
		case remote.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return "", nil, fmt.Errorf("%w: in filter on %s needs a string list", remote.ErrRejected, f.Column)
			}
			clauses = append(clauses, fmt.Sprintf("%s::text = ANY($%d)", col, next))
			args = append(args, pq.Array(values))
			next++
			continue
		default:
			return "", nil, fmt.Errorf("%w: unknown operator %q", remote.ErrRejected, f.Op)
		}
		args = append(args, f.Value)
		next++
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildSelect(resource remote.Resource, filters []remote.Filter, order *remote.Order) (string, []any, error) {
	tbl, err := table(resource, false)
	if err != nil {
		return "", nil, err
	}
	cond, args, err := where(filters, 1)
	if err != nil {
		return "", nil, err
	}
	query := "SELECT * FROM " + tbl + cond
	if order != nil {
		col, err := column(order.Column)
		if err != nil {
			return "", nil, err
		}
		dir := "DESC"
		if order.Ascending {
			dir = "ASC"
		}
		query += " ORDER BY " + col + " " + dir
	}
	return query, args, nil
}

func buildInsert(resource remote.Resource, row remote.Row) (string, []any, error) {
	tbl, err := table(resource, true)
	if err != nil {
		return "", nil, err
	}
	if len(row) == 0 {
		return "INSERT INTO " + tbl + " DEFAULT VALUES RETURNING *", nil, nil
	}
	keys := sortedKeys(row)
	cols := make([]string, 0, len(keys))
	holders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		col, err := column(k)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
		holders = append(holders, fmt.Sprintf("$%d", i+1))
		args = append(args, row[k])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		tbl, strings.Join(cols, ", "), strings.Join(holders, ", "))
	return query, args, nil
}

func buildUpdate(resource remote.Resource, filters []remote.Filter, values remote.Row) (string, []any, error) {
	tbl, err := table(resource, true)
	if err != nil {
		return "", nil, err
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("%w: update without values", remote.ErrRejected)
	}
	keys := sortedKeys(values)
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		col, err := column(k)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, values[k])
	}
	cond, condArgs, err := where(filters, len(keys)+1)
	if err != nil {
		return "", nil, err
	}
	query := "UPDATE " + tbl + " SET " + strings.Join(sets, ", ") + cond + " RETURNING *"
	return query, append(args, condArgs...), nil
}

func sortedKeys(row remote.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalize turns driver byte slices (uuid, numeric) into strings so scanned
// rows compare like rows decoded from notifications.
func normalize(row map[string]any) remote.Row {
	out := make(remote.Row, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return out
}
