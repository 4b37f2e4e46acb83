package policy

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoPendingApproval is returned when resolving an unknown request.
var ErrNoPendingApproval = errors.New("no pending approval request")

// ApprovalBroker is the kernel's sole human-in-the-loop integration point.
// A RequireApproval verdict suspends the calling task until an external
// actor resolves the request. Requests are transient; the durable record is
// the PolicyDecision event emitted for the final verdict.
type ApprovalBroker struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

func NewApprovalBroker() *ApprovalBroker {
	return &ApprovalBroker{pending: make(map[string]chan bool)}
}

// Await registers a request and blocks until it is resolved or the context
// is cancelled. Returns whether the request was approved.
func (b *ApprovalBroker) Await(ctx context.Context, requestID string) (bool, error) {
	ch := make(chan bool, 1)
	b.mu.Lock()
	b.pending[requestID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		return false, errors.Wrapf(ctx.Err(), "approval request %s abandoned", requestID)
	}
}

// Resolve supplies the verdict for a pending request.
func (b *ApprovalBroker) Resolve(requestID string, approve bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.pending[requestID]
	if !ok {
		return errors.Wrap(ErrNoPendingApproval, requestID)
	}
	ch <- approve
	delete(b.pending, requestID)
	return nil
}

// Pending lists the request IDs currently awaiting a verdict, sorted.
func (b *ApprovalBroker) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
