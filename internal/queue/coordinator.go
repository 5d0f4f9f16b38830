// Package queue owns the ticket lifecycle. The coordinator delegates every
// state change to the store's conditional-write contract and publishes a
// refresh notification for the affected office and client once the change has
// committed. It holds no mutable state of its own, so any number of callers
// may invoke it concurrently; races surface as store errors, never as
// corrupted queues.
package queue

import (
	"context"
	"time"

	"github.com/12Perseus21/QueueTrack/internal/feed"
	"github.com/12Perseus21/QueueTrack/internal/models"
	"github.com/12Perseus21/QueueTrack/internal/store"
)

type Coordinator struct {
	store store.TicketStore
	feed  *feed.Feed
}

func NewCoordinator(st store.TicketStore, f *feed.Feed) *Coordinator {
	return &Coordinator{store: st, feed: f}
}

func (c *Coordinator) ListOffices(ctx context.Context) ([]models.Office, error) {
	return c.store.ListOffices(ctx)
}

// JoinQueue issues a waiting ticket for the client at the given office. The
// order number is assigned atomically with the insert, so two simultaneous
// joins can never receive the same number.
func (c *Coordinator) JoinQueue(ctx context.Context, clientID, officeID string) (models.Ticket, error) {
	ticket, err := c.store.CreateTicket(ctx, store.JoinInput{
		ClientID:  clientID,
		OfficeID:  officeID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	c.notify(ticket)
	return ticket, nil
}

// CallNext advances the office's oldest waiting ticket to called. A still
// unresolved called ticket fails the call with ErrCallInProgress; the staff
// caller must serve or skip it explicitly, the core never auto-resolves.
// ErrConflict means another staff member won the race: re-read and retry.
func (c *Coordinator) CallNext(ctx context.Context, staffID, officeID string) (models.Ticket, error) {
	ticket, err := c.store.CallNext(ctx, store.CallNextInput{
		StaffID:  staffID,
		OfficeID: officeID,
		CalledAt: time.Now().UTC(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	c.notify(ticket)
	return ticket, nil
}

// MarkServed resolves a called ticket. ErrInvalidState signals the caller's
// view was stale (already served, skipped, or cancelled by someone else) and
// is not retryable.
func (c *Coordinator) MarkServed(ctx context.Context, staffID, ticketID string) (models.Ticket, error) {
	ticket, err := c.store.ServeTicket(ctx, store.ResolveInput{
		TicketID:   ticketID,
		ActorID:    staffID,
		ResolvedAt: time.Now().UTC(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	c.notify(ticket)
	return ticket, nil
}

// MarkSkipped records a no-show for a waiting or called ticket.
func (c *Coordinator) MarkSkipped(ctx context.Context, staffID, ticketID string) (models.Ticket, error) {
	ticket, err := c.store.SkipTicket(ctx, store.ResolveInput{
		TicketID:   ticketID,
		ActorID:    staffID,
		ResolvedAt: time.Now().UTC(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	c.notify(ticket)
	return ticket, nil
}

// LeaveQueue cancels the client's own ticket. Cancelling while called is
// permitted and frees the office's called slot.
func (c *Coordinator) LeaveQueue(ctx context.Context, clientID, ticketID string) (models.Ticket, error) {
	ticket, err := c.store.CancelTicket(ctx, store.ResolveInput{
		TicketID:   ticketID,
		ActorID:    clientID,
		ResolvedAt: time.Now().UTC(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	c.notify(ticket)
	return ticket, nil
}

func (c *Coordinator) notify(ticket models.Ticket) {
	c.feed.Notify(feed.OfficeScope(ticket.OfficeID), feed.ClientScope(ticket.ClientID))
}
