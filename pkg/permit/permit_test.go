package permit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApproveClosesAllowAtQuorum(t *testing.T) {
	tk := &Ticket{TicketID: "t1", Status: StatusPending, ExpiresAt: 1000, RequiredRoles: []string{"ops", "security", "legal"}, K: 2, N: 3}

	require.NoError(t, tk.Approve("ops", 100))
	require.Equal(t, StatusPending, tk.Status)

	require.NoError(t, tk.Approve("security", 200))
	require.Equal(t, StatusAllow, tk.Status)
	require.True(t, tk.HasClosedAt)
	require.Equal(t, int64(200), tk.ClosedAt)
}

func TestApproveRejectsInvalidRole(t *testing.T) {
	tk := &Ticket{TicketID: "t1", Status: StatusPending, ExpiresAt: 1000, RequiredRoles: []string{"ops"}, K: 1, N: 1}
	err := tk.Approve("finance", 100)
	require.Error(t, err)
	require.Equal(t, StatusPending, tk.Status)
}

func TestApproveRejectsDuplicate(t *testing.T) {
	tk := &Ticket{TicketID: "t1", Status: StatusPending, ExpiresAt: 1000, RequiredRoles: []string{"ops", "security"}, K: 2, N: 2}
	require.NoError(t, tk.Approve("ops", 100))
	err := tk.Approve("ops", 150)
	require.Error(t, err)
}

func TestApproveExpiresWhenPastDue(t *testing.T) {
	tk := &Ticket{TicketID: "t1", Status: StatusPending, ExpiresAt: 100, RequiredRoles: []string{"ops"}, K: 1, N: 1}
	err := tk.Approve("ops", 500)
	require.Error(t, err)
	require.Equal(t, StatusExpired, tk.Status)
}

func TestDenyClosesTicket(t *testing.T) {
	tk := &Ticket{TicketID: "t1", Status: StatusPending, ExpiresAt: 1000, RequiredRoles: []string{"ops"}, K: 1, N: 1}
	require.NoError(t, tk.Deny("ops", 50))
	require.Equal(t, StatusDeny, tk.Status)
}

func TestOperationOnClosedTicketRejected(t *testing.T) {
	tk := &Ticket{TicketID: "t1", Status: StatusAllow, ExpiresAt: 1000, RequiredRoles: []string{"ops"}, K: 1, N: 1}
	require.Error(t, tk.Approve("ops", 50))
	require.Error(t, tk.Deny("ops", 50))
}

func TestExpireStaleClosesAllPastDue(t *testing.T) {
	store := NewMemStore()
	mgr := NewManager(store, func() int64 { return 1000 })

	_, err := mgr.Open("a", "acme", []string{"ops"}, 1, 1, 500, 0, "")
	require.NoError(t, err)
	_, err = mgr.Open("b", "acme", []string{"ops"}, 1, 1, 5000, 0, "")
	require.NoError(t, err)

	n, err := mgr.ExpireStale("acme")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	a, _, err := mgr.Get("a")
	require.NoError(t, err)
	require.Equal(t, StatusExpired, a.Status)

	b, _, err := mgr.Get("b")
	require.NoError(t, err)
	require.Equal(t, StatusPending, b.Status)
}

func TestManagerApproveAndDenyPersist(t *testing.T) {
	store := NewMemStore()
	mgr := NewManager(store, func() int64 { return 1 })

	_, err := mgr.Open("t1", "acme", []string{"ops", "security"}, 2, 2, 1000, 3, "manifest-a")
	require.NoError(t, err)

	t1, err := mgr.Approve("t1", "ops")
	require.NoError(t, err)
	require.Equal(t, StatusPending, t1.Status)

	t2, err := mgr.Approve("t1", "security")
	require.NoError(t, err)
	require.Equal(t, StatusAllow, t2.Status)

	loaded, ok, err := mgr.Get("t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusAllow, loaded.Status)
}

func TestTicketQueueAdapterQueueAndClose(t *testing.T) {
	mgr := NewManager(NewMemStore(), func() int64 { return 1 })
	adapter := NewTicketQueueAdapter(mgr)

	require.NoError(t, adapter.Queue("q1", "acme", []string{"ops"}, 1, 1, 1000))
	t1, ok, err := mgr.Get("q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusPending, t1.Status)

	require.NoError(t, adapter.Close("q1"))
	t2, _, err := mgr.Get("q1")
	require.NoError(t, err)
	require.Equal(t, StatusDeny, t2.Status)

	// closing an already-closed ticket is a no-op, not an error
	require.NoError(t, adapter.Close("q1"))
}
