package rethinkengine

import (
	"reflect"
	"sort"
	"strings"
	"time"
)

// Matches reports whether a wire document satisfies the operation's
// filter: every filter key must be present with an equal value.
// Backends reuse this so a filter means the same thing everywhere.
func (op *Operation) Matches(doc D) bool {
	for k, want := range op.Filter {
		got, ok := doc[k]
		if !ok || !wireEqual(got, want) {
			return false
		}
	}
	return true
}

// SortRows orders rows per OrderBy. The sort is stable, ties keep
// their scan order.
func (op *Operation) SortRows(rows []D) {
	if len(op.OrderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range op.OrderBy {
			c := wireCompare(rows[i][o.Field], rows[j][o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Window applies Skip, then Limit.
func (op *Operation) Window(rows []D) []D {
	if op.Skip > 0 {
		if op.Skip >= len(rows) {
			return rows[:0]
		}
		rows = rows[op.Skip:]
	}
	if op.Limit > 0 && op.Limit < len(rows) {
		rows = rows[:op.Limit]
	}
	return rows
}

// wireNorm folds a wire value onto the few shapes comparisons use:
// every number becomes float64 (JSON semantics), instants go UTC.
func wireNorm(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	}
	return v
}

// coerceTime lifts RFC 3339 strings to instants so a time filter can
// match a backend that stores times as text.
func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func wireEqual(a, b any) bool {
	a, b = wireNorm(a), wireNorm(b)
	if ta, ok := a.(time.Time); ok {
		tb, ok2 := coerceTime(b)
		return ok2 && ta.Equal(tb)
	}
	if tb, ok := b.(time.Time); ok {
		ta, ok2 := coerceTime(a)
		return ok2 && tb.Equal(ta)
	}
	return reflect.DeepEqual(a, b)
}

func wireRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	}
	return 5
}

// wireCompare orders two wire values. Mixed types order by type rank,
// nil sorting first.
func wireCompare(a, b any) int {
	a, b = wireNorm(a), wireNorm(b)
	if _, ok := a.(time.Time); ok {
		if tb, ok2 := coerceTime(b); ok2 {
			b = tb
		}
	}
	if _, ok := b.(time.Time); ok {
		if ta, ok2 := coerceTime(a); ok2 {
			a = ta
		}
	}
	ra, rb := wireRank(a), wireRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ta := a.(type) {
	case bool:
		tb := b.(bool)
		switch {
		case ta == tb:
			return 0
		case tb:
			return -1
		}
		return 1
	case float64:
		tb := b.(float64)
		switch {
		case ta < tb:
			return -1
		case ta > tb:
			return 1
		}
		return 0
	case string:
		return strings.Compare(ta, b.(string))
	case time.Time:
		tb := b.(time.Time)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		}
		return 0
	}
	return 0
}
