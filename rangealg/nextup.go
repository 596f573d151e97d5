package rangealg

import (
	"math"
	"time"

	"github.com/relquery/relquery"
)

// MaxTimestamp is the greatest representable timestamp in this engine's
// domain; NextUp(MaxTimestamp) crosses the timestamp/string type boundary
// rather than overflowing, mirroring the number domain's +Inf → timestamp
// crossing (spec.md §4.9).
var MaxTimestamp = time.Unix(1<<62, 0).UTC()

// NextUp returns the least value strictly greater than v in the total
// order of relquery.Cmp (spec.md §4.9, §8 invariant 8):
//
//   - numbers: the next representable float64, with +Inf crossing the type
//     boundary into the earliest timestamp;
//   - strings: the original string with a NUL byte appended;
//   - timestamps: v+1ms, with the maximum timestamp crossing the type
//     boundary into the empty string;
//   - sequences: the original sequence with -Inf (negative infinity, the
//     least possible value of any type) appended.
//
// Records have no defined successor in the spec; NextUp on a Record panics,
// since no composite-index key path ever terminates in a record-typed
// component.
func NextUp(v relquery.Value) relquery.Value {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		if !x {
			return true
		}
		return 0
	case int:
		return nextUpFloat(float64(x))
	case int32:
		return nextUpFloat(float64(x))
	case int64:
		return nextUpFloat(float64(x))
	case float32:
		return nextUpFloat(float64(x))
	case float64:
		return nextUpFloat(x)
	case time.Time:
		if x.Equal(MaxTimestamp) {
			return "" // crosses the timestamp/string type boundary
		}
		return x.Add(time.Millisecond)
	case string:
		return x + "\x00"
	case relquery.Sequence:
		return append(append(relquery.Sequence{}, x...), math.Inf(-1))
	case []relquery.Value:
		return append(append(relquery.Sequence{}, relquery.Sequence(x)...), math.Inf(-1))
	default:
		panic("rangealg: NextUp has no defined successor for this value type")
	}
}

func nextUpFloat(f float64) relquery.Value {
	if math.IsInf(f, 1) {
		// crosses the number/timestamp type boundary: least timestamp.
		return time.Unix(math.MinInt64/1e9, 0).UTC()
	}
	return math.Nextafter(f, math.Inf(1))
}
