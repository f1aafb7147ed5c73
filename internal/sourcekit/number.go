package sourcekit

import (
	"fmt"
	"math"
	"strconv"
)

var numberUnits = []string{"", "k", "M", "B", "T"}

// FormatNumber shortens n for an 8px tall display: 999, 1.23k, 12.3k, 123k,
// 1.50M and so on. Values below 1000 are printed as integers.
func FormatNumber(n float64) string {
	unit := 0
	v := n
	for math.Abs(v) >= 1000 && unit < len(numberUnits)-1 {
		v /= 1000
		unit++
	}
	if unit == 0 {
		return strconv.FormatInt(int64(v), 10)
	}
	a := math.Abs(v)
	switch {
	case a < 10:
		return fmt.Sprintf("%.2f%s", v, numberUnits[unit])
	case a < 100:
		return fmt.Sprintf("%.1f%s", v, numberUnits[unit])
	default:
		return fmt.Sprintf("%d%s", int64(v), numberUnits[unit])
	}
}
