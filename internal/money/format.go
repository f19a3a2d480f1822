package money

import (
	"fmt"
	"math"
)

// Format renders minor units with two decimal places, e.g. -1205 as "-12.05".
func Format(minor int64) string {
	sign := ""
	u := uint64(minor)
	if minor < 0 {
		sign = "-"
		if minor == math.MinInt64 {
			u = uint64(math.MaxInt64) + 1
		} else {
			u = uint64(-minor)
		}
	}
	return fmt.Sprintf("%s%d.%02d", sign, u/100, u%100)
}
