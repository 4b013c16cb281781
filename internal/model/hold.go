package model

import "time"

// Hold is a time-limited, exclusive claim by one user on one seat of
// one screening.  Holds are never updated: they are created by a hold
// request and removed by release, expiry sweep, booking of the seat or
// the owner's disconnect.  A hold whose ExpiresAt is not after the
// current time is treated as absent even if its row still exists.
//
// Fields:
//
//	ScreeningID – screening whose seat is held.
//	SeatID      – seat being held.
//	UserID      – owner of the hold (JWT subject).
//	ExpiresAt   – absolute expiry instant (UTC).
//	CreatedAt   – creation instant (UTC).
type Hold struct {
	ScreeningID string    `json:"screeningId"` // seat_holds.screening_id
	SeatID      string    `json:"seatId"`      // seat_holds.seat_id
	UserID      string    `json:"userId"`      // seat_holds.user_id
	ExpiresAt   time.Time `json:"expiresAt"`   // seat_holds.expires_at
	CreatedAt   time.Time `json:"createdAt"`   // seat_holds.created_at
}

// Key returns the hold's seat key.
func (h Hold) Key() SeatKey { return SeatKey{ScreeningID: h.ScreeningID, SeatID: h.SeatID} }

// LiveAt reports whether the hold still blocks the seat at instant t.
func (h Hold) LiveAt(t time.Time) bool { return h.ExpiresAt.After(t) }
