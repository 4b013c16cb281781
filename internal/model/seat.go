package model

import "time"

// SeatStatus is the maintenance state of a physical seat.
type SeatStatus string

const (
	SeatActive             SeatStatus = "ACTIVE"
	SeatUnderMaintenance   SeatStatus = "UNDER_MAINTENANCE"
	SeatPermanentlyRemoved SeatStatus = "PERMANENTLY_REMOVED"
)

// Seat describes a physical seat in a hall.  Only ACTIVE, non-deleted
// seats can be booked.
//
// Fields:
//
//	ID         – primary key identifier (UUID).
//	HallID     – hall to which this seat belongs.
//	SeatNumber – printed label such as "C7".
//	Status     – maintenance state.
//	DeletedAt  – soft-delete marker, nil while the seat exists.
type Seat struct {
	ID         string     `json:"id"`                   // seats.id
	HallID     string     `json:"hall_id"`              // seats.hall_id
	SeatNumber string     `json:"seat_number"`          // seats.seat_number
	Status     SeatStatus `json:"status"`               // seats.status
	DeletedAt  *time.Time `json:"deleted_at,omitempty"` // seats.deleted_at
}

// SeatKey identifies one seat of one screening.  It is the unit of
// exclusivity for holds and the element type of the released-seats
// fanout payload.
type SeatKey struct {
	ScreeningID string `json:"screeningId"`
	SeatID      string `json:"seatId"`
}

// GroupByScreening buckets keys by screening, preserving the order in
// which each seat id first appears.
func GroupByScreening(keys []SeatKey) map[string][]string {
	out := make(map[string][]string)
	for _, k := range keys {
		out[k.ScreeningID] = append(out[k.ScreeningID], k.SeatID)
	}
	return out
}
