package attachments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/api/apitest"
	"ledger/internal/core"
)

type failingLister struct{ err error }

func (f failingLister) ListAttachments(context.Context, int64) ([]core.Attachment, error) {
	return nil, f.err
}

func TestStore_GetNeverLoaded(t *testing.T) {
	srv := apitest.NewServer(t)
	s := New(srv.Client(t), nil)

	items := s.Get(42)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.False(t, s.Loaded(42))
	assert.Zero(t, srv.TotalCalls())
}

func TestStore_SetReplacesWhole(t *testing.T) {
	s := New(failingLister{}, nil)

	s.Set(1, []core.Attachment{{ID: 1}, {ID: 2}})
	s.Set(1, []core.Attachment{{ID: 3}})

	got := s.Get(1)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, 1, s.Count(1))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New(failingLister{}, nil)
	s.Set(1, []core.Attachment{{ID: 1, OrigFilename: "a.png"}})

	got := s.Get(1)
	got[0].OrigFilename = "changed"

	assert.Equal(t, "a.png", s.Get(1)[0].OrigFilename)
}

func TestStore_RefreshFromBackend(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	exp := srv.AddExpense(1, apitest.Payload("Taxi", 1, 10))
	srv.AddAttachment(exp, "a.png", "image/png", []byte("a"))
	srv.AddAttachment(exp, "b.pdf", "application/pdf", []byte("b"))

	s := New(srv.Client(t), nil)
	items, err := s.Refresh(context.Background(), exp)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, s.Count(exp))
	assert.Equal(t, 1, srv.Calls("GET /api/expenses/{id}/attachments"))
}

func TestStore_RefreshErrorPassesThroughAndKeepsCache(t *testing.T) {
	boom := errors.New("boom")
	s := New(failingLister{err: boom}, nil)
	s.Set(1, []core.Attachment{{ID: 9}})

	_, err := s.Refresh(context.Background(), 1)
	assert.Same(t, boom, err)
	assert.Equal(t, 1, s.Count(1))
}

func TestStore_ClearAll(t *testing.T) {
	s := New(failingLister{}, nil)
	s.Set(1, []core.Attachment{{ID: 1}})
	s.Set(2, []core.Attachment{{ID: 2}})

	s.ClearAll()

	assert.False(t, s.Loaded(1))
	assert.Empty(t, s.Get(2))
}
