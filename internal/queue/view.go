package queue

import (
	"context"

	"github.com/12Perseus21/QueueTrack/internal/models"
)

// minutesPerPosition feeds the rough wait estimate shown to waiting clients.
const minutesPerPosition = 5

type OfficeView struct {
	Office            models.Office   `json:"office"`
	NowServing        int64           `json:"now_serving,omitempty"`
	NowServingDisplay string          `json:"now_serving_display,omitempty"`
	WaitingList       []models.Ticket `json:"waiting_list"`
}

type ClientView struct {
	Ticket            models.Ticket `json:"ticket"`
	DisplayNumber     string        `json:"display_number"`
	Position          int           `json:"position"`
	IsMyTurn          bool          `json:"is_my_turn"`
	EstimatedWaitMins int           `json:"estimated_wait_mins"`
}

// OfficeView projects the "now serving" board and the ordered waiting list for
// an office. Pure read, no side effects.
func (c *Coordinator) OfficeView(ctx context.Context, officeID string) (OfficeView, error) {
	office, err := c.store.GetOffice(ctx, officeID)
	if err != nil {
		return OfficeView{}, err
	}
	waiting, err := c.store.ListWaiting(ctx, officeID)
	if err != nil {
		return OfficeView{}, err
	}
	view := OfficeView{
		Office:      office,
		WaitingList: waiting,
	}
	serving, found, err := c.store.GetNowServing(ctx, officeID)
	if err != nil {
		return OfficeView{}, err
	}
	if found {
		view.NowServing = serving.OrderNumber
		view.NowServingDisplay = models.DisplayNumber(office.Name, serving.OrderNumber)
	}
	return view, nil
}

// ClientView returns the client's active ticket, if any, with its zero-based
// position in the office's waiting list. The position is recomputed from the
// current list on every call, never stored.
func (c *Coordinator) ClientView(ctx context.Context, clientID string) (ClientView, bool, error) {
	ticket, found, err := c.store.GetActiveTicket(ctx, clientID)
	if err != nil || !found {
		return ClientView{}, false, err
	}
	office, err := c.store.GetOffice(ctx, ticket.OfficeID)
	if err != nil {
		return ClientView{}, false, err
	}
	waiting, err := c.store.ListWaiting(ctx, ticket.OfficeID)
	if err != nil {
		return ClientView{}, false, err
	}

	position := 0
	for i, entry := range waiting {
		if entry.TicketID == ticket.TicketID {
			position = i
			break
		}
	}

	view := ClientView{
		Ticket:            ticket,
		DisplayNumber:     models.DisplayNumber(office.Name, ticket.OrderNumber),
		Position:          position,
		IsMyTurn:          ticket.Status == models.StatusCalled,
		EstimatedWaitMins: (position + 1) * minutesPerPosition,
	}
	return view, true, nil
}
