// Package memory implements the ticket store contract on process-local state.
// All conditional writes are serialized by a single mutex, which gives the same
// check-then-write atomicity the postgres implementation gets from row locking.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/12Perseus21/QueueTrack/internal/models"
	"github.com/12Perseus21/QueueTrack/internal/store"

	"github.com/google/uuid"
)

const defaultOrderBase = 101

type Store struct {
	mu        sync.Mutex
	orderBase int64
	offices   map[string]models.Office
	tickets   map[string]models.Ticket
	sequences map[string]int64
	sessions  map[string]store.Session
	events    []store.Event
}

type Options struct {
	OrderNumberBase int64
}

func NewStore(options Options) *Store {
	base := options.OrderNumberBase
	if base <= 0 {
		base = defaultOrderBase
	}
	return &Store{
		orderBase: base,
		offices:   make(map[string]models.Office),
		tickets:   make(map[string]models.Ticket),
		sequences: make(map[string]int64),
		sessions:  make(map[string]store.Session),
	}
}

// AddOffice seeds office metadata. The queue core itself never mutates
// offices; administrative tooling owns them.
func (s *Store) AddOffice(office models.Office) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if office.OfficeID == "" {
		office.OfficeID = uuid.NewString()
	}
	s.offices[office.OfficeID] = office
}

func (s *Store) PutSession(session store.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
}

func (s *Store) CreateTicket(ctx context.Context, input store.JoinInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offices[input.OfficeID]; !ok {
		return models.Ticket{}, store.ErrOfficeNotFound
	}
	for _, ticket := range s.tickets {
		if ticket.ClientID == input.ClientID && ticket.IsActive() {
			return models.Ticket{}, store.ErrAlreadyActive
		}
	}

	next, ok := s.sequences[input.OfficeID]
	if !ok {
		next = s.orderBase
	} else {
		next++
	}
	s.sequences[input.OfficeID] = next

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	ticket := models.Ticket{
		TicketID:    uuid.NewString(),
		OfficeID:    input.OfficeID,
		ClientID:    input.ClientID,
		OrderNumber: next,
		Status:      models.StatusWaiting,
		CreatedAt:   createdAt,
	}
	s.tickets[ticket.TicketID] = ticket
	s.appendEvent("ticket.created", ticket)
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offices[input.OfficeID]; !ok {
		return models.Ticket{}, store.ErrOfficeNotFound
	}
	for _, ticket := range s.tickets {
		if ticket.OfficeID == input.OfficeID && ticket.Status == models.StatusCalled {
			return models.Ticket{}, store.ErrCallInProgress
		}
	}

	var next models.Ticket
	found := false
	for _, ticket := range s.tickets {
		if ticket.OfficeID != input.OfficeID || ticket.Status != models.StatusWaiting {
			continue
		}
		if !found || ticket.OrderNumber < next.OrderNumber {
			next = ticket
			found = true
		}
	}
	if !found {
		return models.Ticket{}, store.ErrQueueEmpty
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}
	next.Status = models.StatusCalled
	next.CalledAt = &calledAt
	s.tickets[next.TicketID] = next
	s.appendEvent("ticket.called", next)
	return next, nil
}

func (s *Store) ServeTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	return s.resolveTicket(input, "ticket.served", models.StatusServed, "serve", "")
}

func (s *Store) SkipTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	return s.resolveTicket(input, "ticket.skipped", models.StatusSkipped, "skip", "")
}

func (s *Store) CancelTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	return s.resolveTicket(input, "ticket.cancelled", models.StatusCancelled, "cancel", input.ActorID)
}

func (s *Store) resolveTicket(input store.ResolveInput, eventType, toStatus, action, ownerID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if ownerID != "" && ticket.ClientID != ownerID {
		return models.Ticket{}, store.ErrNotOwner
	}
	if !store.ValidTransition(action, ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}

	resolvedAt := input.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}
	ticket.Status = toStatus
	ticket.ResolvedAt = &resolvedAt
	s.tickets[input.TicketID] = ticket
	s.appendEvent(eventType, ticket)
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context, officeID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.OfficeID == officeID && ticket.Status == models.StatusWaiting {
			tickets = append(tickets, ticket)
		}
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].OrderNumber < tickets[j].OrderNumber
	})
	return tickets, nil
}

func (s *Store) GetNowServing(ctx context.Context, officeID string) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ticket := range s.tickets {
		if ticket.OfficeID == officeID && ticket.Status == models.StatusCalled {
			return ticket, true, nil
		}
	}
	return models.Ticket{}, false, nil
}

func (s *Store) GetActiveTicket(ctx context.Context, clientID string) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ticket := range s.tickets {
		if ticket.ClientID == clientID && ticket.IsActive() {
			return ticket, true, nil
		}
	}
	return models.Ticket{}, false, nil
}

func (s *Store) GetOffice(ctx context.Context, officeID string) (models.Office, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	office, ok := s.offices[officeID]
	if !ok {
		return models.Office{}, store.ErrOfficeNotFound
	}
	return office, nil
}

func (s *Store) ListOffices(ctx context.Context) ([]models.Office, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offices := make([]models.Office, 0, len(s.offices))
	for _, office := range s.offices {
		offices = append(offices, office)
	}
	sort.Slice(offices, func(i, j int) bool {
		return offices[i].Name < offices[j].Name
	})
	return offices, nil
}

func (s *Store) ListEvents(ctx context.Context, after time.Time, limit int) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var events []store.Event
	for _, event := range s.events {
		if !event.CreatedAt.After(after) {
			continue
		}
		events = append(events, event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || time.Now().After(session.ExpiresAt) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) appendEvent(eventType string, ticket models.Ticket) {
	payload, _ := json.Marshal(ticket)
	s.events = append(s.events, store.Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		OfficeID:  ticket.OfficeID,
		ClientID:  ticket.ClientID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
