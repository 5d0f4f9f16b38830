package feed

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/12Perseus21/QueueTrack/internal/store"
)

// Poller tails the store's committed-change log and replays it into the feed.
// The coordinator already notifies in-process subscribers directly; the poller
// re-delivers from the durable log so notifications survive restarts and reach
// processes that did not perform the mutation. Duplicate delivery is absorbed
// by subscription coalescing.
type Poller struct {
	store     store.TicketStore
	feed      *Feed
	interval  time.Duration
	batchSize int
	running   int32
	last      time.Time
}

func NewPoller(st store.TicketStore, f *Feed, interval time.Duration, batchSize int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{
		store:     st,
		feed:      f,
		interval:  interval,
		batchSize: batchSize,
		last:      time.Now().UTC(),
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
				continue
			}
			p.poll(ctx)
			atomic.StoreInt32(&p.running, 0)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	events, err := p.store.ListEvents(pollCtx, p.last, p.batchSize)
	if err != nil {
		log.Printf("feed poll error: %v", err)
		return
	}
	for _, event := range events {
		p.last = event.CreatedAt
		scopes := []Scope{OfficeScope(event.OfficeID)}
		if event.ClientID != "" {
			scopes = append(scopes, ClientScope(event.ClientID))
		}
		p.feed.Notify(scopes...)
	}
}
