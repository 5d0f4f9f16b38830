package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/12Perseus21/QueueTrack/internal/models"
)

type JoinInput struct {
	ClientID  string
	OfficeID  string
	CreatedAt time.Time
}

type CallNextInput struct {
	StaffID  string
	OfficeID string
	CalledAt time.Time
}

type ResolveInput struct {
	TicketID   string
	ActorID    string
	ResolvedAt time.Time
}

// TicketStore is the single shared mutable resource of the queue core. Every
// mutation is a conditional write: the new status is committed only if the
// ticket (and, for CallNext, the office's called slot) is still in the expected
// state, linearizable with respect to other writes on the same office.
type TicketStore interface {
	// CreateTicket inserts a waiting ticket with the next order number for the
	// office, assigned atomically with the insert. Returns ErrAlreadyActive if
	// the client holds a waiting or called ticket anywhere, ErrOfficeNotFound
	// if the office does not exist.
	CreateTicket(ctx context.Context, input JoinInput) (models.Ticket, error)

	// CallNext transitions the oldest waiting ticket of the office to called.
	// Returns ErrCallInProgress if a called ticket already exists,
	// ErrQueueEmpty if nothing is waiting, and ErrConflict if a concurrent
	// CallNext won the race; Conflict callers must re-read and retry.
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error)

	// ServeTicket transitions called -> served.
	ServeTicket(ctx context.Context, input ResolveInput) (models.Ticket, error)

	// SkipTicket transitions waiting|called -> skipped.
	SkipTicket(ctx context.Context, input ResolveInput) (models.Ticket, error)

	// CancelTicket transitions waiting|called -> cancelled, permitted for the
	// owning client only (ErrNotOwner otherwise).
	CancelTicket(ctx context.Context, input ResolveInput) (models.Ticket, error)

	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListWaiting(ctx context.Context, officeID string) ([]models.Ticket, error)
	GetNowServing(ctx context.Context, officeID string) (models.Ticket, bool, error)
	GetActiveTicket(ctx context.Context, clientID string) (models.Ticket, bool, error)

	GetOffice(ctx context.Context, officeID string) (models.Office, error)
	ListOffices(ctx context.Context) ([]models.Office, error)

	// ListEvents tails the committed-change log for the feed poller. Events are
	// advisory; losing or re-reading them affects freshness only.
	ListEvents(ctx context.Context, after time.Time, limit int) ([]Event, error)

	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Event struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	OfficeID  string          `json:"office_id"`
	ClientID  string          `json:"client_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Session struct {
	SessionID string
	UserID    string
	Role      string
	ExpiresAt time.Time
}

const (
	RoleClient = "client"
	RoleStaff  = "staff"
)
