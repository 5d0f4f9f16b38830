package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/12Perseus21/QueueTrack/internal/models"
	"github.com/12Perseus21/QueueTrack/internal/queue"
	"github.com/12Perseus21/QueueTrack/internal/store"

	"github.com/google/uuid"
)

// Queue is the coordinator surface the HTTP layer drives. Satisfied by
// *queue.Coordinator.
type Queue interface {
	ListOffices(ctx context.Context) ([]models.Office, error)
	JoinQueue(ctx context.Context, clientID, officeID string) (models.Ticket, error)
	LeaveQueue(ctx context.Context, clientID, ticketID string) (models.Ticket, error)
	CallNext(ctx context.Context, staffID, officeID string) (models.Ticket, error)
	MarkServed(ctx context.Context, staffID, ticketID string) (models.Ticket, error)
	MarkSkipped(ctx context.Context, staffID, ticketID string) (models.Ticket, error)
	OfficeView(ctx context.Context, officeID string) (queue.OfficeView, error)
	ClientView(ctx context.Context, clientID string) (queue.ClientView, bool, error)
}

type Handler struct {
	queue Queue
}

func NewHandler(q Queue) *Handler {
	return &Handler{queue: q}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/offices", h.handleOffices)
	mux.HandleFunc("/api/offices/", h.handleOfficeView)
	mux.HandleFunc("/api/me/view", h.handleClientView)
	mux.HandleFunc("/api/queue/join", h.handleJoin)
	mux.HandleFunc("/api/queue/leave", h.handleLeave)
	mux.HandleFunc("/api/queue/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleOffices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	offices, err := h.queue.ListOffices(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if offices == nil {
		offices = []models.Office{}
	}
	writeJSON(w, http.StatusOK, offices)
}

func (h *Handler) handleOfficeView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/offices/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "view" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	officeID := parts[0]
	if !isValidUUID(officeID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "office_id must be a UUID")
		return
	}

	view, err := h.queue.OfficeView(r.Context(), officeID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if view.WaitingList == nil {
		view.WaitingList = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleClientView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireRole(w, r, store.RoleClient)
	if !ok {
		return
	}

	view, found, err := h.queue.ClientView(r.Context(), session.UserID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type joinRequest struct {
	OfficeID string `json:"office_id"`
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireRole(w, r, store.RoleClient)
	if !ok {
		return
	}

	var req joinRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.OfficeID = strings.TrimSpace(req.OfficeID)
	if req.OfficeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "office_id is required")
		return
	}
	if !isValidUUID(req.OfficeID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "office_id must be a UUID")
		return
	}

	ticket, err := h.queue.JoinQueue(r.Context(), session.UserID, req.OfficeID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type leaveRequest struct {
	TicketID string `json:"ticket_id"`
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireRole(w, r, store.RoleClient)
	if !ok {
		return
	}

	var req leaveRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.TicketID = strings.TrimSpace(req.TicketID)
	if req.TicketID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id is required")
		return
	}
	if !isValidUUID(req.TicketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	ticket, err := h.queue.LeaveQueue(r.Context(), session.UserID, req.TicketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type callNextRequest struct {
	OfficeID string `json:"office_id"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireRole(w, r, store.RoleStaff)
	if !ok {
		return
	}

	var req callNextRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.OfficeID = strings.TrimSpace(req.OfficeID)
	if req.OfficeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "office_id is required")
		return
	}
	if !isValidUUID(req.OfficeID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "office_id must be a UUID")
		return
	}

	ticket, err := h.queue.CallNext(r.Context(), session.UserID, req.OfficeID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ticketID := parts[0]
	action := parts[2]
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	session, ok := requireRole(w, r, store.RoleStaff)
	if !ok {
		return
	}

	var ticket models.Ticket
	var err error
	switch action {
	case "serve":
		ticket, err = h.queue.MarkServed(r.Context(), session.UserID, ticketID)
	case "skip":
		ticket, err = h.queue.MarkSkipped(r.Context(), session.UserID, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrOfficeNotFound):
		return http.StatusNotFound, "office_not_found", "office not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrAlreadyActive):
		return http.StatusConflict, "already_active", "client already holds an active ticket"
	case errors.Is(err, store.ErrQueueEmpty):
		return http.StatusConflict, "queue_empty", "no waiting ticket"
	case errors.Is(err, store.ErrCallInProgress):
		return http.StatusConflict, "call_in_progress", "serve or skip the current ticket first"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "lost race to a concurrent actor, retry"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrNotOwner):
		return http.StatusForbidden, "not_owner", "ticket belongs to a different client"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
