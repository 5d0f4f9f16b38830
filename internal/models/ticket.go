package models

import (
	"fmt"
	"time"
	"unicode"
)

type Ticket struct {
	TicketID    string     `json:"ticket_id"`
	OfficeID    string     `json:"office_id"`
	ClientID    string     `json:"client_id,omitempty"`
	OrderNumber int64      `json:"order_number"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusServed    = "served"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// IsActive reports whether the ticket still occupies its client's
// one-active-ticket slot.
func (t Ticket) IsActive() bool {
	return t.Status == StatusWaiting || t.Status == StatusCalled
}

func IsTerminal(status string) bool {
	switch status {
	case StatusServed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// DisplayNumber formats an order number for display boards, prefixed with the
// first letter of the office name ("Registrar" ticket 104 -> "R-104").
func DisplayNumber(officeName string, orderNumber int64) string {
	for _, r := range officeName {
		return fmt.Sprintf("%c-%d", unicode.ToUpper(r), orderNumber)
	}
	return fmt.Sprintf("#%d", orderNumber)
}
