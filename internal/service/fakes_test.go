package service

import (
	"context"
	"sync"

	"github.com/set-night/billingportal/internal/docstore"
	"github.com/set-night/billingportal/internal/domain"
)

type published struct {
	routingKey string
	body       any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, body any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{routingKey: routingKey, body: body})
	return p.err
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type fakeNotifier struct {
	errors []string
	paid   []*domain.Bill
	awards []domain.RebateAward
}

func (n *fakeNotifier) LogError(err error, context string) { n.errors = append(n.errors, context) }
func (n *fakeNotifier) LogBillPaid(bill *domain.Bill)      { n.paid = append(n.paid, bill) }
func (n *fakeNotifier) LogRebateAward(award domain.RebateAward) {
	n.awards = append(n.awards, award)
}

// countingStore counts commits on top of a real store.
type countingStore struct {
	docstore.Store
	commits int
}

func (s *countingStore) Commit(ctx context.Context, batch *docstore.Batch) error {
	s.commits++
	return s.Store.Commit(ctx, batch)
}

// racingStore lets another writer commit just before the first n commits,
// simulating a concurrent award for the same user.
type racingStore struct {
	*docstore.MemoryStore
	races int
	race  func()
}

func (s *racingStore) Commit(ctx context.Context, batch *docstore.Batch) error {
	if s.races > 0 {
		s.races--
		s.race()
	}
	return s.MemoryStore.Commit(ctx, batch)
}
