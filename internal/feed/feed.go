// Package feed fans out change notifications for queue observers. A
// notification is a pure refresh hint: it carries no state, may be dropped
// under pressure or delivered more than once, and subscribers re-derive what
// they display from the queue views.
package feed

import (
	"sync"

	"github.com/google/uuid"
)

type ScopeKind string

const (
	ScopeOffice ScopeKind = "office"
	ScopeClient ScopeKind = "client"
)

type Scope struct {
	Kind ScopeKind
	ID   string
}

func OfficeScope(officeID string) Scope { return Scope{Kind: ScopeOffice, ID: officeID} }
func ClientScope(clientID string) Scope { return Scope{Kind: ScopeClient, ID: clientID} }

// Subscription delivers coalesced refresh signals on C. A burst of changes
// between reads collapses into one signal. Cancel closes C.
type Subscription struct {
	C      <-chan struct{}
	feed   *Feed
	id     string
	signal chan struct{}
	once   sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.feed.remove(s.id)
	})
}

type subscriber struct {
	scope  Scope
	signal chan struct{}
}

type Feed struct {
	mu   sync.RWMutex
	subs map[string]subscriber
}

func New() *Feed {
	return &Feed{subs: make(map[string]subscriber)}
}

func (f *Feed) Subscribe(scope Scope) *Subscription {
	signal := make(chan struct{}, 1)
	id := uuid.NewString()
	f.mu.Lock()
	f.subs[id] = subscriber{scope: scope, signal: signal}
	f.mu.Unlock()
	return &Subscription{C: signal, feed: f, id: id, signal: signal}
}

// Notify wakes every subscriber of the given scopes. Sends never block: a
// subscriber that already has a pending signal keeps exactly one.
func (f *Feed) Notify(scopes ...Scope) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		for _, scope := range scopes {
			if sub.scope != scope {
				continue
			}
			select {
			case sub.signal <- struct{}{}:
			default:
			}
			break
		}
	}
}

// remove drops the subscriber and closes its channel. The exclusive lock
// guarantees no Notify is mid-send when the close happens.
func (f *Feed) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(sub.signal)
}
