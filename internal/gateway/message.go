// Package gateway is the real-time side of seat selection.  Clients join
// the room of a screening over a websocket, place and release holds, and
// receive every change to the room's seats as it happens.
package gateway

import (
	"encoding/json"
	"time"
)

// Event names.
const (
	EventJoin           = "join"
	EventJoinFailed     = "joinFailed"
	EventLeave          = "leave"
	EventSnapshot       = "snapshot"
	EventSnapshotFailed = "snapshotFailed"
	EventHold           = "hold"
	EventHoldOK         = "holdOk"
	EventHoldFailed     = "holdFailed"
	EventHeld           = "held"
	EventRelease        = "release"
	EventReleaseOK      = "releaseOk"
	EventReleaseFailed  = "releaseFailed"
	EventReleased       = "released"
	EventBooked         = "booked"
	EventError          = "error"
)

// Failure reasons.
const (
	ReasonInvalid     = "INVALID"
	ReasonSeatHeld    = "SEAT_HELD"
	ReasonSeatBooked  = "SEAT_BOOKED"
	ReasonNotFound    = "NOT_FOUND"
	ReasonServerError = "SERVER_ERROR"
)

// Message is the wire envelope for both directions.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// inbound is a decoded client message; Data is parsed per event.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// seatRequest is the payload of join, leave, hold and release.
type seatRequest struct {
	ScreeningID string `json:"screeningId"`
	SeatID      string `json:"seatId"`
}

type failure struct {
	ScreeningID string `json:"screeningId,omitempty"`
	SeatID      string `json:"seatId,omitempty"`
	Reason      string `json:"reason"`
}

type heldPayload struct {
	ScreeningID string    `json:"screeningId"`
	SeatID      string    `json:"seatId"`
	UserID      string    `json:"userId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type holdOKPayload struct {
	ScreeningID string    `json:"screeningId"`
	SeatID      string    `json:"seatId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type seatPayload struct {
	ScreeningID string `json:"screeningId"`
	SeatID      string `json:"seatId"`
}

type seatsPayload struct {
	ScreeningID string   `json:"screeningId"`
	SeatIDs     []string `json:"seatIds"`
}

func encode(m Message) ([]byte, error) { return json.Marshal(m) }
