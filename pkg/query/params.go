package query

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Control keywords; any other key is a column filter.
const (
	keyPage     = "page"
	keyPageSize = "page_size"
	keySort     = "sort"
	keySearch   = "search"
	keyColumns  = "columns"
)

var controlKeys = map[string]bool{
	keyPage: true, keyPageSize: true, keySort: true, keySearch: true, keyColumns: true,
}

// SortKey is one element of the sort parameter: sort=col1,-col2 means
// ascending col1 then descending col2.
type SortKey struct {
	Column string
	Desc   bool
}

// Filter is one column filter with its raw, not yet coerced value.
type Filter struct {
	Column string
	Op     Op
	Raw    string
}

// Params are the parsed request parameters of a read operation. Column
// names are validated later by the builder against the schema snapshot.
type Params struct {
	Page     int
	PageSize int // 0 means the configured default
	Sort     []SortKey
	Search   string
	Columns  []string
	Filters  []Filter
}

// ParseParams interprets request query parameters per the grammar above.
func ParseParams(values url.Values) (Params, error) {
	p := Params{Page: 1}

	if raw := values.Get(keyPage); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, &BuildError{
				Kind:    ErrTypeMismatch,
				Column:  keyPage,
				Message: fmt.Sprintf("%s must be a positive integer, got %q", keyPage, raw),
			}
		}
		p.Page = n
	}
	if raw := values.Get(keyPageSize); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, &BuildError{
				Kind:    ErrTypeMismatch,
				Column:  keyPageSize,
				Message: fmt.Sprintf("%s must be a positive integer, got %q", keyPageSize, raw),
			}
		}
		p.PageSize = n
	}

	for _, part := range strings.Split(values.Get(keySort), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(part, "-"); ok {
			p.Sort = append(p.Sort, SortKey{Column: rest, Desc: true})
		} else {
			p.Sort = append(p.Sort, SortKey{Column: part})
		}
	}

	p.Search = values.Get(keySearch)

	for _, part := range strings.Split(values.Get(keyColumns), ",") {
		if part = strings.TrimSpace(part); part != "" {
			p.Columns = append(p.Columns, part)
		}
	}

	for key, vals := range values {
		if controlKeys[key] {
			continue
		}
		column, op := parseFilterKey(key)
		for _, v := range vals {
			p.Filters = append(p.Filters, Filter{Column: column, Op: op, Raw: v})
		}
	}
	// Map iteration order is random; keep the rendered SQL deterministic.
	sort.SliceStable(p.Filters, func(i, j int) bool {
		a, b := p.Filters[i], p.Filters[j]
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.Op != b.Op {
			return a.Op < b.Op
		}
		return a.Raw < b.Raw
	})

	return p, nil
}

// parseFilterKey splits a col[op] key. A key without brackets, or whose
// operator is outside the closed set, is taken as a literal column name so
// it fails column validation with a precise message.
func parseFilterKey(key string) (string, Op) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return key, OpEq
	}
	op := Op(key[open+1 : len(key)-1])
	if !filterOps[op] {
		return key, OpEq
	}
	return key[:open], op
}
