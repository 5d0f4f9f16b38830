// Package realtime bridges feed subscriptions onto sockjs connections. The
// socket only ever carries refresh hints; connected clients re-fetch the queue
// views over the regular API when poked.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/12Perseus21/QueueTrack/internal/feed"
	"github.com/12Perseus21/QueueTrack/internal/httpapi"
	"github.com/12Perseus21/QueueTrack/internal/store"

	"github.com/igm/sockjs-go/sockjs"
)

type subscribeMessage struct {
	Action string `json:"action"`
	Scope  string `json:"scope"`
	ID     string `json:"id"`
}

type refreshMessage struct {
	Type string `json:"type"`
}

func NewHandler(prefix string, f *feed.Feed, sessions httpapi.SessionStore) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		req := session.Request()
		sessionID := sessionIDFromRequest(req)
		if sessionID == "" {
			_ = session.Close(4001, "missing session")
			return
		}
		authSession, err := sessions.GetSession(context.Background(), sessionID)
		if err != nil {
			_ = session.Close(4002, "invalid session")
			return
		}

		var sub *feed.Subscription
		done := make(chan struct{})
		defer func() {
			close(done)
			if sub != nil {
				sub.Cancel()
			}
		}()

		resubscribe := func(scope feed.Scope) {
			if sub != nil {
				sub.Cancel()
			}
			sub = f.Subscribe(scope)
			go pump(session, sub, done)
		}

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := parseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				if sub != nil {
					sub.Cancel()
					sub = nil
				}
				continue
			}
			scope, ok := resolveScope(parsed, authSession)
			if !ok {
				_ = session.Close(4003, "access denied")
				return
			}
			resubscribe(scope)
		}
	})
}

// resolveScope maps a subscribe request onto a feed scope. Office boards are
// open to any authenticated caller; a client scope is restricted to the
// caller's own identity unless the caller is staff.
func resolveScope(msg subscribeMessage, session store.Session) (feed.Scope, bool) {
	switch msg.Scope {
	case "office":
		if msg.ID == "" {
			return feed.Scope{}, false
		}
		return feed.OfficeScope(msg.ID), true
	case "client":
		id := msg.ID
		if id == "" {
			id = session.UserID
		}
		if id != session.UserID && session.Role != store.RoleStaff {
			return feed.Scope{}, false
		}
		return feed.ClientScope(id), true
	default:
		return feed.Scope{}, false
	}
}

func pump(session sockjs.Session, sub *feed.Subscription, done <-chan struct{}) {
	payload, _ := json.Marshal(refreshMessage{Type: "refresh"})
	for {
		select {
		case <-done:
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			if err := session.Send(string(payload)); err != nil {
				return
			}
		}
	}
}

func parseSubscribe(data []byte) (subscribeMessage, bool) {
	var msg subscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return subscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return subscribeMessage{}, false
	}
	return msg, true
}

func sessionIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("session_id"))
}
