package booking

import (
	"fmt"
	"strings"
	"time"
)

// genitiveMonths are month names as they appear after a day number.
var genitiveMonths = map[time.Month]string{
	time.January:   "января",
	time.February:  "февраля",
	time.March:     "марта",
	time.April:     "апреля",
	time.May:       "мая",
	time.June:      "июня",
	time.July:      "июля",
	time.August:    "августа",
	time.September: "сентября",
	time.October:   "октября",
	time.November:  "ноября",
	time.December:  "декабря",
}

// DateLabel renders a date the way the schedule grid does, e.g. "7 марта".
func DateLabel(t time.Time) string {
	return fmt.Sprintf("%d %s", t.Day(), genitiveMonths[t.Month()])
}

// LabelMatches compares an on-page label to the expected one ignoring
// surrounding whitespace and case.
func LabelMatches(onPage, want string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(onPage), " "), want)
}
