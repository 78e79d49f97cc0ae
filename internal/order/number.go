package order

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const numberRandomSpace = 36 * 36 * 36 * 36 * 36 * 36

// NewOrderNumber renders PREFIX-<base36 unix millis>-<base36 random>, upper case.
func NewOrderNumber(prefix string, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	random := strconv.FormatInt(rand.Int64N(numberRandomSpace), 36)
	if pad := 6 - len(random); pad > 0 {
		random = strings.Repeat("0", pad) + random
	}
	return strings.ToUpper(prefix + "-" + ts + "-" + random)
}
