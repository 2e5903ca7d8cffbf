package permit

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nrf1proto/capsule/pkg/errs"
)

// Store is the durable backing for tickets. MemStore is the default,
// in-process implementation; pkg/permit/sqlstore provides a SQL-backed
// alternative over the same interface.
type Store interface {
	Create(t *Ticket) error
	Get(ticketID string) (*Ticket, bool, error)
	Update(t *Ticket) error
	ListPending(tenant string) ([]*Ticket, error)
}

// MemStore is a process-local Store guarded by a mutex, in the shape of
// the teacher's ApproveHandler.pendingApprovals map.
type MemStore struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tickets: make(map[string]*Ticket)}
}

func (s *MemStore) Create(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[t.TicketID]; exists {
		return errs.New(errs.PermitRejected, "ticket %s already exists", t.TicketID)
	}
	cp := *t
	s.tickets[t.TicketID] = &cp
	return nil
}

func (s *MemStore) Get(ticketID string) (*Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

func (s *MemStore) Update(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[t.TicketID]; !exists {
		return errs.New(errs.PermitRejected, "ticket %s does not exist", t.TicketID)
	}
	cp := *t
	s.tickets[t.TicketID] = &cp
	return nil
}

func (s *MemStore) ListPending(tenant string) ([]*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Ticket
	for _, t := range s.tickets {
		if t.Status == StatusPending && (tenant == "" || t.Tenant == tenant) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Manager wraps a Store and is the entry point both the effect
// dispatcher (via the TicketQueue adapter in ticketqueue.go) and the
// HTTP surface (pkg/permit/httpapi) drive tickets through.
type Manager struct {
	store Store
	now   func() int64
}

// NewManager builds a Manager over store, using now for all time
// comparisons (tests inject a fixed clock).
func NewManager(store Store, now func() int64) *Manager {
	return &Manager{store: store, now: now}
}

// Open creates a new PENDING ticket. If ticketID is empty a random one
// is generated.
func (m *Manager) Open(ticketID, tenant string, requiredRoles []string, k, n int, expiresAt int64, resumeAfterStep int, manifestName string) (*Ticket, error) {
	if ticketID == "" {
		ticketID = uuid.NewString()
	}
	if k <= 0 || k > n {
		return nil, errs.New(errs.ConfigInvalid, "ticket %s: invalid quorum k=%d n=%d", ticketID, k, n)
	}
	t := &Ticket{
		TicketID:        ticketID,
		Tenant:          tenant,
		Status:          StatusPending,
		ExpiresAt:       expiresAt,
		RequiredRoles:   requiredRoles,
		K:               k,
		N:               n,
		CreatedAt:       m.now(),
		ResumeAfterStep: resumeAfterStep,
		ManifestName:    manifestName,
	}
	if err := m.store.Create(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Approve loads the ticket, applies Ticket.Approve, and persists it.
func (m *Manager) Approve(ticketID, role string) (*Ticket, error) {
	t, ok, err := m.store.Get(ticketID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.PermitRejected, "ticket %s not found", ticketID)
	}
	approveErr := t.Approve(role, m.now())
	if uerr := m.store.Update(t); uerr != nil {
		return nil, uerr
	}
	if approveErr != nil {
		return t, approveErr
	}
	return t, nil
}

// Deny loads the ticket, applies Ticket.Deny, and persists it.
func (m *Manager) Deny(ticketID, role string) (*Ticket, error) {
	t, ok, err := m.store.Get(ticketID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.PermitRejected, "ticket %s not found", ticketID)
	}
	denyErr := t.Deny(role, m.now())
	if uerr := m.store.Update(t); uerr != nil {
		return nil, uerr
	}
	if denyErr != nil {
		return t, denyErr
	}
	return t, nil
}

// Cancel force-closes a pending ticket as DENY without an approving
// role, for callers that withdraw a ticket outside the quorum path.
func (m *Manager) Cancel(ticketID string) (*Ticket, error) {
	t, ok, err := m.store.Get(ticketID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.PermitRejected, "ticket %s not found", ticketID)
	}
	if cancelErr := t.Cancel(m.now()); cancelErr != nil {
		return t, cancelErr
	}
	if uerr := m.store.Update(t); uerr != nil {
		return nil, uerr
	}
	return t, nil
}

// ExpireStale closes every PENDING ticket of tenant that is past its
// expiry, per spec §4.9's expire_stale.
func (m *Manager) ExpireStale(tenant string) (int, error) {
	pending, err := m.store.ListPending(tenant)
	if err != nil {
		return 0, err
	}
	now := m.now()
	count := 0
	for _, t := range pending {
		if t.ExpireIfStale(now) {
			if err := m.store.Update(t); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// Get returns the current state of a ticket.
func (m *Manager) Get(ticketID string) (*Ticket, bool, error) {
	return m.store.Get(ticketID)
}
