package store

import "errors"

var (
	ErrOfficeNotFound  = errors.New("office not found")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrAlreadyActive   = errors.New("client already holds an active ticket")
	ErrQueueEmpty      = errors.New("no waiting ticket")
	ErrCallInProgress  = errors.New("a called ticket must be served or skipped first")
	ErrConflict        = errors.New("lost race to a concurrent actor")
	ErrInvalidState    = errors.New("ticket state does not allow this transition")
	ErrNotOwner        = errors.New("ticket belongs to a different client")
	ErrSessionNotFound = errors.New("session not found")
)
