package expr

import (
	"math"
	"strconv"
)

// DefaultPrecision matches the six significant digits of a default
// C++ output stream.
const DefaultPrecision = 6

// FormatValue renders v with the given number of significant digits in %g
// style. A negative precision selects the shortest representation that
// round-trips.
func FormatValue(v float64, precision int) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	if precision == 0 {
		precision = 1
	}
	return strconv.FormatFloat(v, 'g', precision, 64)
}
