package card

import (
	"fmt"
	"strconv"
)

// FormatCount renders an engagement counter the way the card labels show it:
// 999, 1.2K, 3.4M.
func FormatCount(n int) string {
	switch {
	case n <= 0:
		return "0"
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return strconv.Itoa(n)
	}
}
