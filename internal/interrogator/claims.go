package interrogator

import (
	"context"
	"sync"
	"time"
)

// Claim records that one worker holds exclusive processing rights for
// an object.
type Claim struct {
	Object     string
	Owner      string
	AcquiredAt time.Time
	// Attempts counts acquisitions of this object, including stale
	// takeovers.
	Attempts int
}

// ClaimStore grants at-most-one concurrent processing claim per
// object. Acquire returns false when the object is actively claimed by
// someone else; a claim older than the staleness window is treated as
// abandoned and taken over.
//
// The in-memory implementation is only consistent within a single
// process. Running multiple replicas against the same inbox requires
// an implementation backed by a store with conditional writes.
type ClaimStore interface {
	Acquire(ctx context.Context, object, owner string) (*Claim, bool, error)
	Release(ctx context.Context, object, owner string) error
}

type memoryClaimStore struct {
	mu         sync.Mutex
	claims     map[string]*Claim
	staleAfter time.Duration
	now        func() time.Time

	// onReclaim is invoked when a stale claim is taken over.
	onReclaim func()
}

// NewMemoryClaimStore creates a process-local claim store. Claims not
// released within staleAfter are reclaimable. onReclaim may be nil.
func NewMemoryClaimStore(staleAfter time.Duration, onReclaim func()) ClaimStore {
	return &memoryClaimStore{
		claims:     make(map[string]*Claim),
		staleAfter: staleAfter,
		now:        time.Now,
		onReclaim:  onReclaim,
	}
}

func (s *memoryClaimStore) Acquire(_ context.Context, object, owner string) (*Claim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, held := s.claims[object]
	if held {
		if s.now().Sub(existing.AcquiredAt) < s.staleAfter {
			return nil, false, nil
		}
		// Stale: the previous holder is presumed dead.
		claim := &Claim{
			Object:     object,
			Owner:      owner,
			AcquiredAt: s.now(),
			Attempts:   existing.Attempts + 1,
		}
		s.claims[object] = claim
		if s.onReclaim != nil {
			s.onReclaim()
		}
		return claim, true, nil
	}

	claim := &Claim{
		Object:     object,
		Owner:      owner,
		AcquiredAt: s.now(),
		Attempts:   1,
	}
	s.claims[object] = claim
	return claim, true, nil
}

func (s *memoryClaimStore) Release(_ context.Context, object, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if claim, held := s.claims[object]; held && claim.Owner == owner {
		delete(s.claims, object)
	}
	return nil
}
