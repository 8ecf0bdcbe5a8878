package remote

import (
	"fmt"
	"strings"
	"time"
)

// Op is a column comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
)

// Filter restricts rows by comparing one column.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq matches rows whose column equals value.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Neq matches rows whose column differs from value.
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }

// In matches rows whose column is one of values.
func In(column string, values []string) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

// Match evaluates the filter against row.
func (f Filter) Match(row Row) bool {
	v := row[f.Column]
	switch f.Op {
	case OpEq:
		return sameValue(v, f.Value)
	case OpNeq:
		return !sameValue(v, f.Value)
	case OpIn:
		values, _ := f.Value.([]string)
		for _, candidate := range values {
			if sameValue(v, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (f Filter) String() string {
	return fmt.Sprintf("%s=%s.%v", f.Column, f.Op, f.Value)
}

// MatchAll reports whether row satisfies every filter.
func MatchAll(filters []Filter, row Row) bool {
	for _, f := range filters {
		if !f.Match(row) {
			return false
		}
	}
	return true
}

// sameValue compares loosely so that rows decoded from JSON notifications and
// rows scanned from SQL compare equal.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// CompareValues orders two column values. Nil sorts first.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
