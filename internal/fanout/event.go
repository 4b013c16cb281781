package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// releasedEntry is one element of a released-seats message.  Origin is
// set when a gateway publishes seats it has already announced locally.
type releasedEntry struct {
	ScreeningID string `json:"screeningId"`
	SeatID      string `json:"seatId"`
	Origin      string `json:"origin,omitempty"`
}

// EncodeReleased serialises swept keys as a JSON array of
// {screeningId, seatId} objects.
func EncodeReleased(keys []model.SeatKey) ([]byte, error) {
	return EncodeReleasedFrom("", keys)
}

// EncodeReleasedFrom is EncodeReleased with every entry tagged with the
// publishing instance.
func EncodeReleasedFrom(origin string, keys []model.SeatKey) ([]byte, error) {
	entries := make([]releasedEntry, len(keys))
	for i, k := range keys {
		entries[i] = releasedEntry{ScreeningID: k.ScreeningID, SeatID: k.SeatID, Origin: origin}
	}
	return json.Marshal(entries)
}

// Released is a decoded released-seats message.  Origin is empty for
// messages from the sweeper and the reservation service.
type Released struct {
	Origin string
	Keys   []model.SeatKey
}

// DecodeReleased parses a released-seats message.  Entries missing
// either id are rejected.
func DecodeReleased(payload []byte) ([]model.SeatKey, error) {
	r, err := DecodeReleasedMessage(payload)
	return r.Keys, err
}

// DecodeReleasedMessage is DecodeReleased keeping the origin tag.
func DecodeReleasedMessage(payload []byte) (Released, error) {
	var entries []releasedEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return Released{}, fmt.Errorf("decode released seats: %w", err)
	}
	var out Released
	out.Keys = make([]model.SeatKey, 0, len(entries))
	for i, e := range entries {
		if e.ScreeningID == "" || e.SeatID == "" {
			return Released{}, fmt.Errorf("decode released seats: entry %d is incomplete", i)
		}
		if out.Origin == "" {
			out.Origin = e.Origin
		}
		out.Keys = append(out.Keys, model.SeatKey{ScreeningID: e.ScreeningID, SeatID: e.SeatID})
	}
	return out, nil
}

// SeatHeld is published when a gateway grants a hold.
type SeatHeld struct {
	Origin      string    `json:"origin"`
	ScreeningID string    `json:"screeningId"`
	SeatID      string    `json:"seatId"`
	UserID      string    `json:"userId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// DecodeSeatHeld parses a held-seat message.
func DecodeSeatHeld(payload []byte) (SeatHeld, error) {
	var ev SeatHeld
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode held seat: %w", err)
	}
	if ev.ScreeningID == "" || ev.SeatID == "" || ev.UserID == "" {
		return ev, fmt.Errorf("decode held seat: missing screening, seat or user")
	}
	return ev, nil
}

// BookingConfirmed is published when a reservation is paid.  It carries
// enough for other processes to update their rooms and for downstream
// consumers to log the sale without querying the database.
type BookingConfirmed struct {
	TransactionID    string   `json:"transactionId"`
	UserID           string   `json:"userId"`
	ScreeningID      string   `json:"screeningId"`
	HallID           string   `json:"hallId"`
	HallName         string   `json:"hallName"`
	MovieTitle       string   `json:"movieTitle"`
	StartsAt         string   `json:"startsAt"`
	SeatIDs          []string `json:"seatIds"`
	TotalAmountCents int64    `json:"totalAmountCents"`
	ConfirmedAt      string   `json:"confirmedAt"`
}

// DecodeBookingConfirmed parses a booking message.
func DecodeBookingConfirmed(payload []byte) (BookingConfirmed, error) {
	var ev BookingConfirmed
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode booking: %w", err)
	}
	if ev.ScreeningID == "" || len(ev.SeatIDs) == 0 {
		return ev, fmt.Errorf("decode booking: missing screening or seats")
	}
	return ev, nil
}
