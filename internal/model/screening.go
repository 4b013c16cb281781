package model

import "time"

// CleaningBuffer is the turnaround time appended to every screening
// before the hall can host the next one.
const CleaningBuffer = 30 * time.Minute

// Screening represents a scheduled showing of a movie in a particular
// hall.  EndTime always equals StartTime + movie duration + CleaningBuffer.
//
// Fields:
//
//	ID        – primary key identifier (UUID).
//	MovieID   – movie being shown.
//	HallID    – hall where the screening takes place.
//	StartTime – when the screening begins (UTC).
//	EndTime   – when the hall becomes free again (UTC).
//	DeletedAt – soft-delete marker.
type Screening struct {
	ID        string     `json:"id"`         // screenings.id
	MovieID   string     `json:"movie_id"`   // screenings.movie_id
	HallID    string     `json:"hall_id"`    // screenings.hall_id
	StartTime time.Time  `json:"start_time"` // screenings.start_time
	EndTime   time.Time  `json:"end_time"`   // screenings.end_time
	DeletedAt *time.Time `json:"-"`          // screenings.deleted_at
}

// ScreeningDetail joins a screening with the movie and hall attributes
// needed for pricing.
type ScreeningDetail struct {
	Screening
	MovieTitle      string      `json:"movie_title"`
	DurationMinutes int         `json:"duration_minutes"`
	HallName        string      `json:"hall_name"`
	HallClass       HallClass   `json:"hall_class"`
	ScreenClass     ScreenClass `json:"screen_class"`
}
