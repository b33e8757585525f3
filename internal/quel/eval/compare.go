package eval

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
)

// Compare orders two non-null values: numerically when one side is a number
// and the other a number or numeric string, chronologically for two times,
// otherwise by their string form. It returns -1, 0 or 1.
func Compare(a, b any) int {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if !isNumberKind(a) && !isNumberKind(b) {
		return strings.Compare(Format(a), Format(b))
	}

	if ia, ok := toInt(a); ok {
		if ib, ok := toInt(b); ok {
			return cmp3(ia < ib, ia > ib)
		}
	}
	if fa, ok := toNumber(a); ok {
		if fb, ok := toNumber(b); ok {
			return cmp3(fa < fb, fa > fb)
		}
	}

	// NaN and non-numeric strings order by text, never equal to a number
	return strings.Compare(Format(a), Format(b))
}

// decimal matches the numeric strings Quel accepts: optional sign, digits
// with an optional fraction, optional exponent. NaN, Inf and hex floats are
// text.
var decimal = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)

func isDecimal(s string) bool {
	return decimal.MatchString(strings.TrimSpace(s))
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}

// toInt converts integer kinds and integer strings.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// toNumber converts any numeric kind or decimal string to float64. NaN is
// not a number here.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		if !isDecimal(n) {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func isNumberKind(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func arithmetic(op ql.BinaryOperator, a, b any) (any, error) {
	if op != ql.OpDiv {
		ia, okA := toInt(a)
		ib, okB := toInt(b)
		if okA && okB {
			switch op {
			case ql.OpAdd:
				return ia + ib, nil
			case ql.OpSub:
				return ia - ib, nil
			case ql.OpMul:
				return ia * ib, nil
			}
		}
	}

	fa, okA := toNumber(a)
	fb, okB := toNumber(b)
	if !okA || !okB {
		return nil, fault.Newf(fault.EvaluateCode, "cannot apply %s to %q and %q", op, Format(a), Format(b))
	}
	switch op {
	case ql.OpAdd:
		return fa + fb, nil
	case ql.OpSub:
		return fa - fb, nil
	case ql.OpMul:
		return fa * fb, nil
	case ql.OpDiv:
		if fb == 0 {
			return nil, fault.New(fault.EvaluateCode, "division by zero")
		}
		return fa / fb, nil
	}
	return nil, fault.Newf(fault.EvaluateCode, "unsupported operator %s", op)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// isEmpty follows PHP's empty(): nil, "", "0", zero numbers, false and
// empty collections are empty.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == "" || x == "0"
	}
	if isNumberKind(v) {
		f, _ := toNumber(v)
		return f == 0
	}
	return isEmptyCollection(v)
}

func isEmptyCollection(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case string:
		return x == ""
	}
	return false
}

func typeCheck(kind ql.CheckKind, v any) bool {
	switch kind {
	case ql.CheckEmpty:
		return isEmpty(v)
	case ql.CheckNumeric:
		if isNumberKind(v) {
			return true
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, isNum := toNumber(s)
		return isNum
	case ql.CheckInteger:
		switch v.(type) {
		case float32, float64:
			return false
		}
		_, ok := toInt(v)
		return ok
	case ql.CheckFloat:
		switch x := v.(type) {
		case float32, float64:
			return true
		case string:
			if _, isInt := toInt(x); isInt {
				return false
			}
			_, isNum := toNumber(x)
			return isNum
		}
	}
	return false
}
