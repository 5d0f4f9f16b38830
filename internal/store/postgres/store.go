package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/12Perseus21/QueueTrack/internal/models"
	"github.com/12Perseus21/QueueTrack/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation    = "23505"
	pgLockNotAvailable   = "55P03"
	defaultOrderBase     = 101
	defaultEventPageSize = 100
)

type Store struct {
	pool      *pgxpool.Pool
	orderBase int64
}

type Options struct {
	// OrderNumberBase is the order number assigned to the first ticket of an
	// office. Defaults to 101.
	OrderNumberBase int64
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	base := options.OrderNumberBase
	if base <= 0 {
		base = defaultOrderBase
	}
	return &Store{pool: pool, orderBase: base}
}

func (s *Store) CreateTicket(ctx context.Context, input store.JoinInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureOfficeExists(ctx, tx, input.OfficeID); err != nil {
		return models.Ticket{}, err
	}

	// The partial unique index on active tickets backstops this check under
	// concurrent joins by the same client.
	var active bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE client_id = $1 AND status IN ('waiting', 'called')
		)
	`, input.ClientID)
	if err = row.Scan(&active); err != nil {
		return models.Ticket{}, err
	}
	if active {
		err = store.ErrAlreadyActive
		return models.Ticket{}, err
	}

	orderNumber, err := s.nextOrderNumber(ctx, tx, input.OfficeID)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var ticket models.Ticket
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_id, office_id, client_id, order_number, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ticket_id, office_id, client_id, order_number, status, created_at
	`, uuid.NewString(), input.OfficeID, input.ClientID, orderNumber, models.StatusWaiting, createdAt)
	if err = row.Scan(&ticket.TicketID, &ticket.OfficeID, &ticket.ClientID, &ticket.OrderNumber, &ticket.Status, &ticket.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			err = store.ErrAlreadyActive
		}
		return models.Ticket{}, err
	}

	if err = insertEvent(ctx, tx, "ticket.created", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			err = store.ErrAlreadyActive
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureOfficeExists(ctx, tx, input.OfficeID); err != nil {
		return models.Ticket{}, err
	}

	var called bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets WHERE office_id = $1 AND status = 'called'
		)
	`, input.OfficeID)
	if err = row.Scan(&called); err != nil {
		return models.Ticket{}, err
	}
	if called {
		err = store.ErrCallInProgress
		return models.Ticket{}, err
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	// NOWAIT makes the loser of a concurrent call-next fail immediately with a
	// lock error instead of blocking; the partial unique index on the office's
	// called slot catches the remaining window between the EXISTS check and
	// the update. Both surface as ErrConflict, which callers retry after a
	// re-read.
	var ticket models.Ticket
	var calledAtNull sql.NullTime
	row = tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE office_id = $1 AND status = 'waiting'
			ORDER BY order_number ASC
			LIMIT 1
			FOR UPDATE NOWAIT
		)
		UPDATE tickets
		SET status = 'called',
			called_at = $2
		FROM next_ticket
		WHERE tickets.ticket_id = next_ticket.ticket_id
		RETURNING tickets.ticket_id, tickets.office_id, tickets.client_id, tickets.order_number, tickets.status, tickets.created_at, tickets.called_at
	`, input.OfficeID, calledAt)
	if err = row.Scan(&ticket.TicketID, &ticket.OfficeID, &ticket.ClientID, &ticket.OrderNumber, &ticket.Status, &ticket.CreatedAt, &calledAtNull); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			err = store.ErrQueueEmpty
		case isLockNotAvailable(err), isUniqueViolation(err):
			err = store.ErrConflict
		}
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)

	if err = insertEvent(ctx, tx, "ticket.called", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			err = store.ErrConflict
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ServeTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	return s.resolveTicket(ctx, input, "ticket.served", models.StatusServed, []string{models.StatusCalled}, "")
}

func (s *Store) SkipTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	return s.resolveTicket(ctx, input, "ticket.skipped", models.StatusSkipped, []string{models.StatusWaiting, models.StatusCalled}, "")
}

func (s *Store) CancelTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	return s.resolveTicket(ctx, input, "ticket.cancelled", models.StatusCancelled, []string{models.StatusWaiting, models.StatusCalled}, input.ActorID)
}

// resolveTicket performs the shared conditional transition into a terminal
// status. When ownerID is non-empty the write additionally requires the ticket
// to belong to that client.
func (s *Store) resolveTicket(ctx context.Context, input store.ResolveInput, eventType, toStatus string, fromStatuses []string, ownerID string) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	resolvedAt := input.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}

	query := `
		UPDATE tickets
		SET status = $2,
			resolved_at = $3
		WHERE ticket_id = $1 AND status = ANY($4)
	`
	args := []interface{}{input.TicketID, toStatus, resolvedAt, fromStatuses}
	if ownerID != "" {
		query += ` AND client_id = $5`
		args = append(args, ownerID)
	}
	query += `
		RETURNING ticket_id, office_id, client_id, order_number, status, created_at, called_at, resolved_at
	`

	var ticket models.Ticket
	var calledAtNull, resolvedAtNull sql.NullTime
	row := tx.QueryRow(ctx, query, args...)
	if err = row.Scan(&ticket.TicketID, &ticket.OfficeID, &ticket.ClientID, &ticket.OrderNumber, &ticket.Status, &ticket.CreatedAt, &calledAtNull, &resolvedAtNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.classifyResolveFailure(ctx, tx, input.TicketID, ownerID)
		}
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.ResolvedAt = nullTimePtr(resolvedAtNull)

	if err = insertEvent(ctx, tx, eventType, ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// classifyResolveFailure explains why a conditional transition matched no row:
// the ticket is missing, owned by someone else, or already past the allowed
// source states.
func (s *Store) classifyResolveFailure(ctx context.Context, tx pgx.Tx, ticketID, ownerID string) error {
	var clientID, status string
	row := tx.QueryRow(ctx, `
		SELECT client_id, status FROM tickets WHERE ticket_id = $1
	`, ticketID)
	if err := row.Scan(&clientID, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTicketNotFound
		}
		return err
	}
	if ownerID != "" && clientID != ownerID {
		return store.ErrNotOwner
	}
	return store.ErrInvalidState
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id, office_id, client_id, order_number, status, created_at, called_at, resolved_at
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context, officeID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, office_id, client_id, order_number, status, created_at, called_at, resolved_at
		FROM tickets
		WHERE office_id = $1 AND status = 'waiting'
		ORDER BY order_number ASC
	`, officeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) GetNowServing(ctx context.Context, officeID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id, office_id, client_id, order_number, status, created_at, called_at, resolved_at
		FROM tickets
		WHERE office_id = $1 AND status = 'called'
	`, officeID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetActiveTicket(ctx context.Context, clientID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id, office_id, client_id, order_number, status, created_at, called_at, resolved_at
		FROM tickets
		WHERE client_id = $1 AND status IN ('waiting', 'called')
	`, clientID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetOffice(ctx context.Context, officeID string) (models.Office, error) {
	var office models.Office
	var descriptionNull sql.NullString
	row := s.pool.QueryRow(ctx, `
		SELECT office_id, name, description FROM offices WHERE office_id = $1
	`, officeID)
	if err := row.Scan(&office.OfficeID, &office.Name, &descriptionNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Office{}, store.ErrOfficeNotFound
		}
		return models.Office{}, err
	}
	if descriptionNull.Valid {
		office.Description = descriptionNull.String
	}
	return office, nil
}

func (s *Store) ListOffices(ctx context.Context) ([]models.Office, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT office_id, name, description FROM offices ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offices []models.Office
	for rows.Next() {
		var office models.Office
		var descriptionNull sql.NullString
		if err := rows.Scan(&office.OfficeID, &office.Name, &descriptionNull); err != nil {
			return nil, err
		}
		if descriptionNull.Valid {
			office.Description = descriptionNull.String
		}
		offices = append(offices, office)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offices, nil
}

func (s *Store) ListEvents(ctx context.Context, after time.Time, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, office_id, client_id, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		var event store.Event
		if err := rows.Scan(&event.EventID, &event.Type, &event.OfficeID, &event.ClientID, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, role, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) nextOrderNumber(ctx context.Context, tx pgx.Tx, officeID string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_sequences (office_id, next_number)
		VALUES ($1, $2)
		ON CONFLICT (office_id)
		DO UPDATE SET next_number = queue_sequences.next_number + 1
		RETURNING next_number
	`, officeID, s.orderBase)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func ensureOfficeExists(ctx context.Context, tx pgx.Tx, officeID string) error {
	var id string
	row := tx.QueryRow(ctx, `
		SELECT office_id FROM offices WHERE office_id = $1
	`, officeID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrOfficeNotFound
		}
		return err
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload := map[string]interface{}{
		"ticket_id":    ticket.TicketID,
		"office_id":    ticket.OfficeID,
		"client_id":    ticket.ClientID,
		"order_number": ticket.OrderNumber,
		"status":       ticket.Status,
		"created_at":   ticket.CreatedAt,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, office_id, client_id, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), eventType, ticket.OfficeID, ticket.ClientID, payloadJSON, time.Now().UTC())
	return err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAtNull, resolvedAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.OfficeID, &ticket.ClientID, &ticket.OrderNumber, &ticket.Status, &ticket.CreatedAt, &calledAtNull, &resolvedAtNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.ResolvedAt = nullTimePtr(resolvedAtNull)
	return ticket, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}
