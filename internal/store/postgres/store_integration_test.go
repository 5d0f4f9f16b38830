package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/12Perseus21/QueueTrack/internal/models"
	"github.com/12Perseus21/QueueTrack/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCreateTicketConcurrentNumbers(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	officeID := seedOffice(t, ctx, pool, "Registrar")

	const joiners = 10
	var wg sync.WaitGroup
	results := make(chan models.Ticket, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := st.CreateTicket(ctx, store.JoinInput{
				ClientID: uuid.NewString(),
				OfficeID: officeID,
			})
			if err != nil {
				t.Errorf("create ticket: %v", err)
				return
			}
			results <- ticket
		}()
	}
	wg.Wait()
	close(results)

	var numbers []int64
	for ticket := range results {
		numbers = append(numbers, ticket.OrderNumber)
	}
	if len(numbers) != joiners {
		t.Fatalf("expected %d tickets, got %d", joiners, len(numbers))
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, n := range numbers {
		if n != 101+int64(i) {
			t.Fatalf("expected contiguous numbers from 101, got %v", numbers)
		}
	}
}

func TestCreateTicketRejectsActiveClient(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	officeA := seedOffice(t, ctx, pool, "Registrar")
	officeB := seedOffice(t, ctx, pool, "Bursar")

	clientID := uuid.NewString()
	if _, err := st.CreateTicket(ctx, store.JoinInput{ClientID: clientID, OfficeID: officeA}); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := st.CreateTicket(ctx, store.JoinInput{ClientID: clientID, OfficeID: officeB}); !errors.Is(err, store.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestCallNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	officeID := seedOffice(t, ctx, pool, "Registrar")
	for i := 0; i < 2; i++ {
		if _, err := st.CreateTicket(ctx, store.JoinInput{ClientID: uuid.NewString(), OfficeID: officeID}); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CallNext(ctx, store.CallNextInput{StaffID: uuid.NewString(), OfficeID: officeID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrCallInProgress):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful call, got %d", successes)
	}

	var called int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE office_id = $1 AND status = 'called'`, officeID)
	if err := row.Scan(&called); err != nil {
		t.Fatalf("count called: %v", err)
	}
	if called != 1 {
		t.Fatalf("expected one called ticket, got %d", called)
	}
}

func TestCallNextLifecycle(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	officeID := seedOffice(t, ctx, pool, "Registrar")
	clientID := uuid.NewString()
	first, err := st.CreateTicket(ctx, store.JoinInput{ClientID: clientID, OfficeID: officeID})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := st.CreateTicket(ctx, store.JoinInput{ClientID: uuid.NewString(), OfficeID: officeID}); err != nil {
		t.Fatalf("join: %v", err)
	}

	called, err := st.CallNext(ctx, store.CallNextInput{StaffID: uuid.NewString(), OfficeID: officeID})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.TicketID != first.TicketID {
		t.Fatalf("expected oldest ticket called")
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{OfficeID: officeID}); !errors.Is(err, store.ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}

	served, err := st.ServeTicket(ctx, store.ResolveInput{TicketID: first.TicketID})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if served.Status != models.StatusServed || served.ResolvedAt == nil {
		t.Fatalf("unexpected served ticket: %+v", served)
	}
	if _, err := st.ServeTicket(ctx, store.ResolveInput{TicketID: first.TicketID}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on duplicate serve, got %v", err)
	}

	// Serving freed the called slot; the next waiting ticket is callable and
	// the served client may rejoin with a fresh, higher number.
	second, err := st.CallNext(ctx, store.CallNextInput{OfficeID: officeID})
	if err != nil {
		t.Fatalf("call next after serve: %v", err)
	}
	if _, err := st.SkipTicket(ctx, store.ResolveInput{TicketID: second.TicketID}); err != nil {
		t.Fatalf("skip: %v", err)
	}

	rejoined, err := st.CreateTicket(ctx, store.JoinInput{ClientID: clientID, OfficeID: officeID})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if rejoined.OrderNumber <= first.OrderNumber {
		t.Fatalf("expected higher number on rejoin, got %d after %d", rejoined.OrderNumber, first.OrderNumber)
	}
}

func TestCancelOwnership(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	officeID := seedOffice(t, ctx, pool, "Registrar")
	clientID := uuid.NewString()
	ticket, err := st.CreateTicket(ctx, store.JoinInput{ClientID: clientID, OfficeID: officeID})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := st.CancelTicket(ctx, store.ResolveInput{TicketID: ticket.TicketID, ActorID: uuid.NewString()}); !errors.Is(err, store.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	cancelled, err := st.CancelTicket(ctx, store.ResolveInput{TicketID: ticket.TicketID, ActorID: clientID})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestOutboxEventsWritten(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	officeID := seedOffice(t, ctx, pool, "Registrar")
	ticket, err := st.CreateTicket(ctx, store.JoinInput{ClientID: uuid.NewString(), OfficeID: officeID})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{OfficeID: officeID}); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, err := st.ServeTicket(ctx, store.ResolveInput{TicketID: ticket.TicketID}); err != nil {
		t.Fatalf("serve: %v", err)
	}

	var count int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE office_id = $1`, officeID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 outbox events, got %d", count)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedOffice(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string) string {
	t.Helper()
	officeID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO offices (office_id, name) VALUES ($1, $2)
	`, officeID, name); err != nil {
		t.Fatalf("insert office: %v", err)
	}
	return officeID
}
