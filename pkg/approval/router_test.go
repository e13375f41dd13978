package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopsymphony/symphony/pkg/models"
)

func TestSubmitAndResolveApproved(t *testing.T) {
	r := NewRouter()
	req := r.Submit("conductor-1", "execute_task", "run backup", 0, map[string]any{"task_id": "t1"})
	assert.Equal(t, models.ApprovalPending, req.Status)
	assert.NotEmpty(t, req.ID)

	resolved, err := r.Resolve(req.ID, models.ApprovalResolution{Approved: true, ResolvedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, resolved.Status)
	assert.Equal(t, "alice", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
}

func TestResolveDenied(t *testing.T) {
	r := NewRouter()
	req := r.Submit("c1", "execute_task", "wipe disk", 0, nil)
	resolved, err := r.Resolve(req.ID, models.ApprovalResolution{Approved: false, ResolvedBy: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalDenied, resolved.Status)
}

func TestResolveUnknownOrAlreadyResolved(t *testing.T) {
	r := NewRouter()
	var notFound *NotFoundError
	_, err := r.Resolve("missing", models.ApprovalResolution{Approved: true, ResolvedBy: "x"})
	require.ErrorAs(t, err, &notFound)

	req := r.Submit("c1", "execute_task", "d", 0, nil)
	_, err = r.Resolve(req.ID, models.ApprovalResolution{Approved: true, ResolvedBy: "x"})
	require.NoError(t, err)

	_, err = r.Resolve(req.ID, models.ApprovalResolution{Approved: false, ResolvedBy: "y"})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, req.ID, notFound.ID)
}

func TestPendingOrderedOldestFirst(t *testing.T) {
	r := NewRouter()
	current := time.Now().UTC()
	r.now = func() time.Time { return current }

	first := r.Submit("c1", "a", "first", 0, nil)
	current = current.Add(time.Minute)
	second := r.Submit("c1", "b", "second", 0, nil)

	_, err := r.Resolve(first.ID, models.ApprovalResolution{Approved: true, ResolvedBy: "x"})
	require.NoError(t, err)

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestExpiryIsLazyAndBlocksResolve(t *testing.T) {
	r := NewRouter()
	current := time.Now().UTC()
	r.now = func() time.Time { return current }

	req := r.Submit("c1", "execute_task", "d", 0, nil)

	current = current.Add(DefaultTTL + time.Second)
	got, ok := r.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, models.ApprovalExpired, got.Status)

	var notFound *NotFoundError
	_, err := r.Resolve(req.ID, models.ApprovalResolution{Approved: true, ResolvedBy: "x"})
	assert.ErrorAs(t, err, &notFound)
	assert.Empty(t, r.Pending())
}

func TestExpireStaleCounts(t *testing.T) {
	r := NewRouter()
	current := time.Now().UTC()
	r.now = func() time.Time { return current }

	r.Submit("c1", "a", "old", 0, nil)
	current = current.Add(DefaultTTL + time.Second)
	fresh := r.Submit("c1", "b", "fresh", 0, nil)

	assert.Equal(t, 1, r.ExpireStale())
	assert.Equal(t, 0, r.ExpireStale())
	got, _ := r.Get(fresh.ID)
	assert.Equal(t, models.ApprovalPending, got.Status)
}
