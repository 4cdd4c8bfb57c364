package state

import "time"

const timeLayout = time.RFC3339

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
