package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"factforge/backend/go/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-0123456789"

func newLog(t *testing.T) (*Log, *MemoryStore) {
	t.Helper()
	s, err := NewSigner(secret)
	require.NoError(t, err)
	store := NewMemoryStore()
	return NewLog(s, store), store
}

func TestAppendAndVerify(t *testing.T) {
	l, _ := newLog(t)
	e, err := l.Append(context.Background(), "check", map[string]interface{}{"request_id": "r1", "verdict": "FALSE"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Len(t, e.Signature, 64)
	assert.JSONEq(t, `{"request_id":"r1","verdict":"FALSE"}`, string(e.Payload))
	assert.NoError(t, l.Verify(context.Background(), e.ID))
}

func TestTamperedPayloadFailsVerification(t *testing.T) {
	l, store := newLog(t)
	e, err := l.Append(context.Background(), "check", map[string]int{"trust_score": 12})
	require.NoError(t, err)

	store.Tamper(e.ID, []byte(`{"trust_score":99}`))
	err = l.Verify(context.Background(), e.ID)
	assert.True(t, errors.Is(err, apperr.ErrSignatureMismatch))
}

func TestSignatureCoversTypeAndTime(t *testing.T) {
	s, err := NewSigner(secret)
	require.NoError(t, err)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	sig := s.Sign("check", at, []byte(`{}`))

	assert.True(t, s.Valid("check", at, []byte(`{}`), sig))
	assert.True(t, s.Valid("check", at.In(time.FixedZone("IST", 19800)), []byte(`{}`), sig), "时区不影响签名")
	assert.False(t, s.Valid("review:transition", at, []byte(`{}`), sig))
	assert.False(t, s.Valid("check", at.Add(time.Millisecond), []byte(`{}`), sig))
	assert.False(t, s.Valid("check", at, []byte(`{}`), "zz"))

	other, err := NewSigner("another-secret-987654321")
	require.NoError(t, err)
	assert.False(t, other.Valid("check", at, []byte(`{}`), sig))
}

func TestNewSignerRejectsShortSecret(t *testing.T) {
	_, err := NewSigner("short")
	assert.Error(t, err)
}

func TestAppendStoreFailure(t *testing.T) {
	l, store := newLog(t)
	store.FailWith(errors.New("mongo down"))
	_, err := l.Append(context.Background(), "check", map[string]string{})
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
	assert.Equal(t, 0, store.Len())
}

func TestVerifyUnknownID(t *testing.T) {
	l, _ := newLog(t)
	err := l.Verify(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListFiltersAndPaginates(t *testing.T) {
	l, _ := newLog(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	l.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Second) }

	for _, typ := range []string{"check", "review:transition", "check", "check"} {
		_, err := l.Append(context.Background(), typ, map[string]string{"t": typ})
		require.NoError(t, err)
	}

	all, err := l.List(context.Background(), "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	checks, err := l.List(context.Background(), "check", 2, 1)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	for _, c := range checks {
		assert.Equal(t, "check", c.EventType)
	}

	_, err = l.List(context.Background(), "", 10, -1)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
