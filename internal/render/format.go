package render

import (
	"strconv"
	"strings"
	"time"
)

// EndTimeLayout is the 12-hour clock used for "Ends at ..." bodies.
const EndTimeLayout = "3:04 PM"

const endTimeFallback = "later"

// FormatCountAndName renders "3 Sunflowers". The name gets a plural "s" when
// count > 1 and it doesn't already end in "s".
func FormatCountAndName(count int, name string) string {
	if name == "" {
		return strconv.Itoa(count)
	}
	if count > 1 && !strings.HasSuffix(name, "s") {
		name += "s"
	}
	return strconv.Itoa(count) + " " + name
}

// FormatEndTime renders an epoch-millis timestamp as a clock time in loc.
// Non-positive timestamps render as "later".
func FormatEndTime(ms int64, loc *time.Location) string {
	if ms <= 0 {
		return endTimeFallback
	}
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format(EndTimeLayout)
}

// splitDetails splits pipe-delimited details into at most n fields.
func splitDetails(details string, n int) []string {
	if !strings.Contains(details, detailsSeparator) {
		return nil
	}
	return strings.SplitN(details, detailsSeparator, n)
}

func parseMillis(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// flowerAmount turns "6.9999 SFL" into "6.9999 $Flower".
func flowerAmount(text string) string {
	if strings.Contains(text, "SFL") {
		return strings.TrimSpace(strings.ReplaceAll(text, " SFL", "")) + " $Flower"
	}
	return text + " $Flower"
}
