package sqlite

import (
	"database/sql"
	"strings"
	"time"
)

const timeRFC3339Nano = time.RFC3339Nano

func timeNow() time.Time { return time.Now() }

func formatTime(t time.Time) string {
	return t.UTC().Format(timeRFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTimeString parses a TEXT timestamp column. The ncruces/go-sqlite3
// driver only auto-converts TEXT->time.Time for columns declared
// DATETIME/DATE/TIME/TIMESTAMP; our schema stores timestamps as plain
// TEXT so every read path parses manually, same as the corpus does for
// its own TEXT timestamp columns.
func parseTimeString(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseNullableTimeString(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTimeString(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func toLowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
