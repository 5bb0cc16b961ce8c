package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/audit"
	"factforge/backend/go/internal/events"
	"factforge/backend/go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.Identity{UserID: "alice", Role: models.RoleReviewer}
	bob   = models.Identity{UserID: "bob", Role: models.RoleReviewer}
	root  = models.Identity{UserID: "root", Role: models.RoleAdmin}
	user  = models.Identity{UserID: "u1", Role: models.RoleUser}
)

type fixture struct {
	svc        *Service
	store      *MemoryStore
	auditStore *audit.MemoryStore
	log        *audit.Log
	rec        *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := audit.NewSigner("review-test-secret-42")
	require.NoError(t, err)
	as := audit.NewMemoryStore()
	l := audit.NewLog(signer, as)
	store := NewMemoryStore()
	rec := &events.Recorder{}
	return &fixture{svc: NewService(store, l, rec, nil), store: store, auditStore: as, log: l, rec: rec}
}

func (f *fixture) enqueue(t *testing.T, req string, priority int) *models.ReviewItem {
	t.Helper()
	it, err := f.svc.Enqueue(context.Background(), NewItem{
		RequestID: req,
		ClaimText: "claim " + req,
		Language:  "en",
		Verdict:   models.VerdictFalse,
		Priority:  priority,
	})
	require.NoError(t, err)
	return it
}

func (f *fixture) auditTypes(t *testing.T) []string {
	t.Helper()
	entries, err := f.log.List(context.Background(), "", 0, 0)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.EventType
	}
	return out
}

func TestNextTable(t *testing.T) {
	cases := []struct {
		from models.ReviewStatus
		op   Op
		to   models.ReviewStatus
		ok   bool
	}{
		{models.ReviewPending, OpAssign, models.ReviewInReview, true},
		{models.ReviewInReview, OpApprove, models.ReviewApproved, true},
		{models.ReviewInReview, OpReject, models.ReviewRejected, true},
		{models.ReviewInReview, OpEscalate, models.ReviewEscalated, true},
		{models.ReviewPending, OpEscalate, models.ReviewEscalated, true},
		{models.ReviewEscalated, OpReopen, models.ReviewInReview, true},
		{models.ReviewPending, OpApprove, "", false},
		{models.ReviewApproved, OpReject, "", false},
		{models.ReviewRejected, OpReopen, "", false},
		{models.ReviewInReview, OpAssign, "", false},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s_%s", c.from, c.op), func(t *testing.T) {
			to, err := Next(c.from, c.op)
			if !c.ok {
				assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.to, to)
		})
	}
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.enqueue(t, "r1", 0)
	assert.Equal(t, models.ReviewPending, it.Status)
	assert.Equal(t, models.PriorityNormal, it.Priority)
	assert.EqualValues(t, 1, it.Version)

	it, err := f.svc.Assign(ctx, it.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewInReview, it.Status)
	assert.Equal(t, "alice", it.AssignedTo)

	it, err = f.svc.Act(ctx, it.ID, alice, models.ActionApprove, "sources agree")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewApproved, it.Status)
	assert.Equal(t, "sources agree", it.Note)
	assert.EqualValues(t, 3, it.Version)

	assert.Equal(t, []string{models.EventReviewQueued, models.EventReviewAssigned, models.EventReviewApproved}, f.rec.Types())
	assert.ElementsMatch(t, []string{models.AuditReviewQueued, models.AuditReviewTransition, models.AuditReviewTransition}, f.auditTypes(t))
}

func TestActFromPendingIsInvalid(t *testing.T) {
	f := newFixture(t)
	it := f.enqueue(t, "r1", 0)
	_, err := f.svc.Act(context.Background(), it.ID, alice, models.ActionApprove, "")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	got, err := f.svc.Get(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, got.Status)
	assert.Equal(t, []string{models.AuditReviewQueued}, f.auditTypes(t), "非法转换不写审计")
}

func TestActByOtherReviewerForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.enqueue(t, "r1", 0)
	_, err := f.svc.Assign(ctx, it.ID, alice)
	require.NoError(t, err)

	_, err = f.svc.Act(ctx, it.ID, bob, models.ActionReject, "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	it, err = f.svc.Act(ctx, it.ID, root, models.ActionReject, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRejected, it.Status)
	assert.Equal(t, "root", it.AssignedTo)
}

func TestPlainUserCannotReview(t *testing.T) {
	f := newFixture(t)
	it := f.enqueue(t, "r1", 0)
	_, err := f.svc.Assign(context.Background(), it.ID, user)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestEscalateAndReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.enqueue(t, "r1", 0)

	it, err := f.svc.Escalate(ctx, it.ID, alice, "needs a lawyer")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewEscalated, it.Status)
	assert.Equal(t, models.PriorityEscalated, it.Priority)

	_, err = f.svc.Reopen(ctx, it.ID, alice, "bob")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	it, err = f.svc.Reopen(ctx, it.ID, root, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewInReview, it.Status)
	assert.Equal(t, "bob", it.AssignedTo)
	assert.Contains(t, f.rec.Types(), models.EventReviewReopened)
}

func TestConcurrentApproveExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.enqueue(t, "r1", 0)
	_, err := f.svc.Assign(ctx, it.ID, root)
	require.NoError(t, err)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Act(ctx, it.ID, root, models.ActionApprove, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			k := apperr.KindOf(err)
			assert.True(t, k == apperr.KindConflict || k == apperr.KindInvalidTransition, "unexpected %v", err)
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := f.svc.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewApproved, got.Status)
	assert.EqualValues(t, 3, got.Version)
}

func TestLostSwapWritesAbortEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.enqueue(t, "r1", 0)

	f.store.beforeSwap = func() {
		f.store.beforeSwap = nil
		f.store.mu.Lock()
		f.store.items[it.ID].Version++
		f.store.mu.Unlock()
	}
	_, err := f.svc.Assign(ctx, it.ID, alice)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	entries, err := f.log.List(ctx, models.AuditReviewAborted, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, string(entries[0].Payload), `"intent_id"`)
	assert.NotContains(t, f.rec.Types(), models.EventReviewAssigned)
}

func TestAuditFailureRejectsTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.enqueue(t, "r1", 0)

	f.auditStore.FailWith(errors.New("mongo down"))
	_, err := f.svc.Assign(ctx, it.ID, alice)
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))

	got, err := f.svc.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, got.Status)
	assert.EqualValues(t, 1, got.Version)
}

func TestEnqueueDuplicateRequest(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "r1", 0)
	_, err := f.svc.Enqueue(context.Background(), NewItem{RequestID: "r1"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.svc.Enqueue(context.Background(), NewItem{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestListOrderAndCursor(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	f.svc.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Minute) }

	f.enqueue(t, "n1", models.PriorityNormal)
	f.enqueue(t, "h1", models.PriorityHighRisk)
	f.enqueue(t, "n2", models.PriorityNormal)
	f.enqueue(t, "h2", models.PriorityHighRisk)
	f.enqueue(t, "n3", models.PriorityNormal)

	var got []string
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		page, err := f.svc.List(context.Background(), models.ReviewPending, "", cursor, 2)
		require.NoError(t, err)
		assert.EqualValues(t, 5, page.TotalPending)
		for _, it := range page.Items {
			got = append(got, it.RequestID)
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"h1", "h2", "n1", "n2", "n3"}, got)

	_, err := f.svc.List(context.Background(), "", "", "%%%", 2)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.svc.List(context.Background(), "done", "", "", 2)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestListByAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enqueue(t, "r1", 0)
	f.enqueue(t, "r2", 0)
	_, err := f.svc.Assign(ctx, a.ID, alice)
	require.NoError(t, err)

	page, err := f.svc.List(ctx, "", "alice", "", 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "r1", page.Items[0].RequestID)
	assert.EqualValues(t, 1, page.TotalPending)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enqueue(t, "r1", 0)
	b := f.enqueue(t, "r2", 0)
	f.enqueue(t, "r3", 0)

	_, err := f.svc.Assign(ctx, a.ID, alice)
	require.NoError(t, err)
	_, err = f.svc.Assign(ctx, b.ID, alice)
	require.NoError(t, err)
	_, err = f.svc.Act(ctx, b.ID, alice, models.ActionReject, "")
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Counts[models.ReviewPending])
	assert.EqualValues(t, 1, st.Counts[models.ReviewInReview])
	assert.EqualValues(t, 1, st.Counts[models.ReviewRejected])
	assert.EqualValues(t, 0, st.Counts[models.ReviewApproved])
	assert.EqualValues(t, 1, st.MyAssigned)
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{Priority: 5, CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 6e6, time.UTC), ID: "x"}
	got, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c.Priority, got.Priority)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "x", got.ID)

	empty, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, empty)
}
