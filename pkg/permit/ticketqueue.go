package permit

// TicketQueueAdapter satisfies pkg/effect's TicketQueue interface over a
// Manager, translating the dispatcher's queue/close effects into ticket
// lifecycle operations. Resume wiring (resume_after_step, manifest) is
// attached by whatever enqueues a REQUIRE verdict's resume job alongside
// the ticket; this adapter only opens and force-closes tickets.
type TicketQueueAdapter struct {
	mgr *Manager
}

// NewTicketQueueAdapter wraps mgr for use as an effect.TicketQueue.
func NewTicketQueueAdapter(mgr *Manager) *TicketQueueAdapter {
	return &TicketQueueAdapter{mgr: mgr}
}

// Queue opens a new PENDING ticket with the given quorum.
func (a *TicketQueueAdapter) Queue(ticketID, tenant string, requiredRoles []string, k, n int, expiresAt int64) error {
	_, err := a.mgr.Open(ticketID, tenant, requiredRoles, k, n, expiresAt, 0, "")
	return err
}

// Close force-cancels a still-pending ticket as DENY; closing an
// already-closed ticket is a no-op, matching the idempotent-effect
// contract the dispatcher expects of its adapters.
func (a *TicketQueueAdapter) Close(ticketID string) error {
	t, ok, err := a.mgr.Get(ticketID)
	if err != nil {
		return err
	}
	if !ok || t.Status != StatusPending {
		return nil
	}
	_, err = a.mgr.Cancel(ticketID)
	return err
}
