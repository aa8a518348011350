// Package odata translates a bounded subset of OData query parameters
// ($select, $filter, $orderby, $top, $skip) into a parameterized SQL Server
// query. Translate is a pure function: no I/O, no database handle, so it is
// trivially unit-testable and reusable by both the SQL executor's GET path
// and any future caller needing the same grammar.
package odata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/r3e-network/odata-gateway/infrastructure/errors"
)

// DefaultTop is used when $top is absent.
const DefaultTop = 10

// Params is the raw OData query parameter set accepted by Translate.
type Params struct {
	Select  string
	Filter  string
	OrderBy string
	Top     string
	Skip    string
}

// Query is the translated, parameterized SQL plus its bindings.
type Query struct {
	SQL      string
	Bindings map[string]any
	Top      int
	Skip     int
	Columns  []string // empty means "select *" (no explicit projection)
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

func bracket(ident string) string {
	return "[" + ident + "]"
}

// SplitSelect parses a comma-separated $select list into trimmed column
// names. Used by the SQL executor to validate against allowedColumns before
// calling Translate, so disallowed columns short-circuit before any SQL is
// built.
func SplitSelect(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Translate builds a parameterized query against [schema].[table].
func Translate(schema, table string, p Params) (Query, error) {
	q := Query{Bindings: make(map[string]any)}

	columns := SplitSelect(p.Select)
	for _, c := range columns {
		if !validIdentifier(c) {
			return Query{}, errors.InvalidInput("$select", "invalid column name "+c)
		}
	}
	q.Columns = columns

	projection := "*"
	if len(columns) > 0 {
		bracketed := make([]string, len(columns))
		for i, c := range columns {
			bracketed[i] = bracket(c)
		}
		projection = strings.Join(bracketed, ", ")
	}

	where := ""
	if strings.TrimSpace(p.Filter) != "" {
		clause, bindings, err := translateFilter(p.Filter)
		if err != nil {
			return Query{}, err
		}
		where = " WHERE " + clause
		for k, v := range bindings {
			q.Bindings[k] = v
		}
	}

	orderBy := ""
	if strings.TrimSpace(p.OrderBy) != "" {
		clause, err := translateOrderBy(p.OrderBy)
		if err != nil {
			return Query{}, err
		}
		orderBy = " ORDER BY " + clause
	}

	top := DefaultTop
	if strings.TrimSpace(p.Top) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(p.Top))
		if err != nil || n < 0 {
			return Query{}, errors.InvalidInput("$top", "must be a non-negative integer")
		}
		top = n
	}
	skip := 0
	if strings.TrimSpace(p.Skip) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(p.Skip))
		if err != nil || n < 0 {
			return Query{}, errors.InvalidInput("$skip", "must be a non-negative integer")
		}
		skip = n
	}
	q.Top = top
	q.Skip = skip

	if orderBy == "" {
		// SQL Server's OFFSET/FETCH requires an ORDER BY; ORDER BY (SELECT
		// NULL) satisfies the syntax but imposes no row order, so without an
		// explicit $orderby the rows on each page are in no defined order.
		orderBy = " ORDER BY (SELECT NULL)"
	}

	q.SQL = fmt.Sprintf(
		"SELECT %s FROM %s.%s%s%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
		projection, bracket(schema), bracket(table), where, orderBy, skip, top+1,
	)
	return q, nil
}

var (
	filterEqRe       = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s+eq\s+'([^']*)'$`)
	filterContainsRe = regexp.MustCompile(`^contains\(\s*([A-Za-z_][A-Za-z0-9_]*)\s*,\s*'([^']*)'\s*\)$`)
	filterGtRe       = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s+gt\s+(-?\d+)$`)
)

// translateFilter recognises exactly three $filter forms (eq, contains,
// gt) and rejects everything else, failing closed rather than risking a
// raw-SQL passthrough of an unrecognised expression.
func translateFilter(filter string) (string, map[string]any, error) {
	filter = strings.TrimSpace(filter)

	if m := filterEqRe.FindStringSubmatch(filter); m != nil {
		field := m[1]
		return bracket(field) + " = @p0", map[string]any{"p0": m[2]}, nil
	}
	if m := filterContainsRe.FindStringSubmatch(filter); m != nil {
		field := m[1]
		return bracket(field) + " LIKE '%' + @p0 + '%'", map[string]any{"p0": m[2]}, nil
	}
	if m := filterGtRe.FindStringSubmatch(filter); m != nil {
		field := m[1]
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", nil, errors.UnsupportedFilter(filter)
		}
		return bracket(field) + " > @p0", map[string]any{"p0": n}, nil
	}
	return "", nil, errors.UnsupportedFilter(filter)
}

func translateOrderBy(orderBy string) (string, error) {
	parts := strings.Split(orderBy, ",")
	clauses := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		field := fields[0]
		if !validIdentifier(field) {
			return "", errors.InvalidInput("$orderby", "invalid column name "+field)
		}
		dir := "ASC"
		if len(fields) > 1 {
			switch strings.ToLower(fields[1]) {
			case "asc":
				dir = "ASC"
			case "desc":
				dir = "DESC"
			default:
				return "", errors.InvalidInput("$orderby", "direction must be asc or desc")
			}
		}
		clauses = append(clauses, bracket(field)+" "+dir)
	}
	if len(clauses) == 0 {
		return "", errors.InvalidInput("$orderby", "empty")
	}
	return strings.Join(clauses, ", "), nil
}
