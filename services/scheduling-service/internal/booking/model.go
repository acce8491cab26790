package booking

import (
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusCancelled      Status = "cancelled"
	StatusCompleted      Status = "completed"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Call is one payment-gated scheduled call between a requester (mentee) and a
// counterpart (mentor). PaymentAmount is in the currency's minor unit.
type Call struct {
	ID               string
	RequesterID      string
	RequesterEmail   string
	CounterpartID    string
	CounterpartEmail string
	Interval         interval.Interval
	Title            string
	Description      string
	Notes            string
	Status           Status
	PaymentStatus    PaymentStatus
	PaymentAmount    int64
	PaymentCurrency  string
	PaymentOrderID   string
	PaymentID        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
