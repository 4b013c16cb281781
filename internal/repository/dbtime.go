package repository

import (
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is the format used for every DATETIME bound as a parameter.
// Storing one fixed-width layout keeps string comparison on SQLite
// equivalent to time comparison on MySQL.
const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// nullTime scans DATETIME columns from either driver: MySQL returns
// time.Time (parseTime=true) while SQLite may hand back text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var _ sql.Scanner = (*nullTime)(nil)

var parseLayouts = []string{
	timeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	}
	return fmt.Errorf("unsupported DATETIME value of type %T", src)
}

func (n *nullTime) parse(s string) error {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable DATETIME %q", s)
}

// Ptr returns nil for NULL.
func (n nullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
