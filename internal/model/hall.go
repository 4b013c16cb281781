package model

import "time"

// HallClass grades the comfort level of a hall and drives the hall
// component of the ticket price.
type HallClass string

const (
	HallStandard HallClass = "STANDARD"
	HallPremium  HallClass = "PREMIUM"
	HallVIP      HallClass = "VIP"
)

// ScreenClass describes the projection technology installed in a hall.
type ScreenClass string

const (
	Screen2D   ScreenClass = "STANDARD_2D"
	Screen3D   ScreenClass = "THREE_D"
	ScreenIMAX ScreenClass = "IMAX"
	Screen4DX  ScreenClass = "FOUR_DX"
)

// Hall is a room in which screenings take place.  Halls are managed
// outside this service and are only read here.
//
// Fields:
//
//	ID          – primary key identifier (UUID).
//	Name        – display name.
//	HallClass   – comfort grade used for pricing.
//	ScreenClass – projection technology used for pricing.
type Hall struct {
	ID          string      // halls.id
	Name        string      // halls.name
	HallClass   HallClass   // halls.hall_class
	ScreenClass ScreenClass // halls.screen_class
}

// Movie is the feature shown by a screening.  Only the running time
// matters to scheduling.
type Movie struct {
	ID              string    // movies.id
	Title           string    // movies.title
	DurationMinutes int       // movies.duration_minutes
	CreatedAt       time.Time // movies.created_at
}
