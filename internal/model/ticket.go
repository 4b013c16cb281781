package model

import "time"

// TicketStatus tracks a ticket through the reservation flow.
type TicketStatus string

const (
	TicketPending   TicketStatus = "PENDING"
	TicketPaid      TicketStatus = "PAID"
	TicketRefunded  TicketStatus = "REFUNDED"
	TicketCancelled TicketStatus = "CANCELLED"
)

// Live reports whether a ticket in this status occupies its seat.
// PENDING tickets only exist inside an open reservation transaction.
func (s TicketStatus) Live() bool { return s == TicketPending || s == TicketPaid }

// Ticket is one seat of one screening sold (or attempted) within a
// ledger transaction.  A seat is booked exactly when a non-deleted PAID
// ticket exists for it.
//
// Fields:
//
//	ID            – primary key identifier (UUID).
//	ScreeningID   – screening the ticket admits to.
//	SeatID        – seat the ticket admits to.
//	UserID        – purchaser.
//	Status        – lifecycle state.
//	PriceCents    – price charged for this seat.
//	TransactionID – ledger transaction the ticket belongs to.
//	CreatedAt     – creation instant.
//	DeletedAt     – set when the ticket is refunded.
type Ticket struct {
	ID            string       `json:"id"`             // tickets.id
	ScreeningID   string       `json:"screening_id"`   // tickets.screening_id
	SeatID        string       `json:"seat_id"`        // tickets.seat_id
	UserID        string       `json:"user_id"`        // tickets.user_id
	Status        TicketStatus `json:"status"`         // tickets.status
	PriceCents    int64        `json:"price_cents"`    // tickets.price_cents
	TransactionID string       `json:"transaction_id"` // tickets.transaction_id
	CreatedAt     time.Time    `json:"created_at"`     // tickets.created_at
	DeletedAt     *time.Time   `json:"deleted_at,omitempty"`
}

// TransactionStatus tracks the payment outcome of a reservation.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionRejected  TransactionStatus = "REJECTED"
)

// LedgerTransaction records one payment attempt covering one or more
// tickets.  Every PAID ticket belongs to exactly one COMPLETED
// transaction; a REJECTED transaction keeps its CANCELLED tickets as an
// audit trail.
type LedgerTransaction struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Status           TransactionStatus `json:"status"`
	TotalAmountCents int64             `json:"total_amount_cents"`
	PaymentMethod    string            `json:"payment_method"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}
