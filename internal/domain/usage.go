package domain

import "time"

// UsageDateLayout is the UTC calendar-day key of a usage counter.
const UsageDateLayout = "2006-01-02"

// UsageCounter counts AI invocations for one user on one UTC date.
type UsageCounter struct {
	UserID      int64
	Date        string
	Count       int
	LastCommand string
}

// UsageDate returns the UTC date key for t.
func UsageDate(t time.Time) string {
	return t.UTC().Format(UsageDateLayout)
}
