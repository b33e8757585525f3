package eval

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
)

// Aggregate evaluates count or ucount over a row set. count counts rows
// where the argument is not null; ucount counts distinct non-null values.
func (e *Evaluator) Aggregate(agg ql.Aggregate, rows []Row, params map[string]any) (int64, error) {
	var (
		arg      ql.Expr
		distinct bool
	)
	switch a := agg.(type) {
	case *ql.Count:
		arg = a.Arg
	case *ql.UCount:
		arg, distinct = a.Arg, true
	default:
		return 0, fault.Newf(fault.EvaluateCode, "unsupported aggregate %T", agg)
	}

	var count int64
	seen := make(map[string]bool)
	for _, row := range rows {
		v, err := e.Value(arg, row, params)
		if err != nil {
			return 0, err
		}
		if v == nil {
			continue
		}
		if distinct {
			key := DistinctKey(v)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		count++
	}
	return count, nil
}

// DistinctKey returns a value's identity for distinct counts and entity
// identity. Integers keep their exact value; integral floats share the
// integer form so 1 and 1.0 collapse. Maps print with sorted keys.
func DistinctKey(v any) string {
	if k, ok := numberKey(v); ok {
		return k
	}
	if t, ok := v.(time.Time); ok {
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// JoinKey is DistinctKey with numeric strings folded into the number they
// spell, so a hash join pairs "1525" with 1525 the way Compare does. Keys
// that collide this way still need a Compare check; two numeric strings
// compare as text.
func JoinKey(v any) string {
	if s, ok := v.(string); ok && isDecimal(s) {
		if i, ok := toInt(s); ok {
			return "i:" + strconv.FormatInt(i, 10)
		}
		if f, ok := toNumber(s); ok {
			return floatKey(f)
		}
	}
	return DistinctKey(v)
}

func numberKey(v any) (string, bool) {
	switch n := v.(type) {
	case uint64:
		return "i:" + strconv.FormatUint(n, 10), true
	case uint:
		return "i:" + strconv.FormatUint(uint64(n), 10), true
	case float64:
		return floatKey(n), true
	case float32:
		return floatKey(float64(n)), true
	}
	if !isNumberKind(v) {
		return "", false
	}
	i, _ := toInt(v)
	return "i:" + strconv.FormatInt(i, 10), true
}

func floatKey(f float64) string {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return "i:" + strconv.FormatInt(int64(f), 10)
	}
	return "n:" + formatFloat(f)
}
