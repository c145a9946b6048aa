package api_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/api"
	"ledger/internal/api/apitest"
	"ledger/internal/core"
	"ledger/internal/log"
)

func TestClient_New_RejectsRelativeURL(t *testing.T) {
	_, err := api.New(api.Options{BaseURL: "/api"})
	require.Error(t, err)
}

func TestClient_SendsBearerAndRequestID(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c, err := api.New(api.Options{BaseURL: srv.URL, Token: "abc"})
	require.NoError(t, err)

	items, err := c.ListAttachments(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Equal(t, "Bearer abc", got.Get("Authorization"))
	assert.NotEmpty(t, got.Get(log.RequestIDHeader))
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(t *testing.T, err error)
		authHit bool
	}{
		{
			name:   "detail message",
			status: http.StatusBadRequest,
			body:   `{"detail":"Attachment limit reached"}`,
			check: func(t *testing.T, err error) {
				var te *core.TransferError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, http.StatusBadRequest, te.Status)
				assert.Equal(t, "Attachment limit reached", te.Message)
			},
		},
		{
			name:   "empty body falls back",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var te *core.TransferError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, "Request failed", te.Message)
			},
		},
		{
			name:   "plain text body",
			status: http.StatusBadGateway,
			body:   "upstream down",
			check: func(t *testing.T, err error) {
				var te *core.TransferError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, "upstream down", te.Message)
			},
		},
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"detail":"Token expired"}`,
			authHit: true,
			check: func(t *testing.T, err error) {
				assert.True(t, core.IsAuthorization(err))
				var te *core.TransferError
				assert.False(t, errors.As(err, &te))
			},
		},
		{
			name:    "forbidden",
			status:  http.StatusForbidden,
			authHit: true,
			check: func(t *testing.T, err error) {
				assert.True(t, core.IsAuthorization(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			var hits int
			c, err := api.New(api.Options{
				BaseURL:        srv.URL,
				OnUnauthorized: func(*core.AuthorizationError) { hits++ },
			})
			require.NoError(t, err)

			_, err = c.ListExpenses(context.Background(), 1)
			require.Error(t, err)
			tt.check(t, err)
			if tt.authHit {
				assert.Equal(t, 1, hits)
			} else {
				assert.Zero(t, hits)
			}
		})
	}
}

func TestClient_NetworkErrorIsTransferError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := api.New(api.Options{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	err = c.DeleteDraft(context.Background(), 1)
	var te *core.TransferError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.Status)
	assert.NotNil(t, te.Err)
}

func TestClient_UploadProgressIsMonotone(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	expID := srv.AddExpense(1, apitest.Payload("Taxi", 1, 10))
	c := srv.Client(t)

	var mu sync.Mutex
	var seen []float64
	data := bytes.Repeat([]byte("x"), 256<<10)
	f := core.FileFromBytes("scan.pdf", "application/pdf", data)

	att, err := c.UploadAttachment(context.Background(), expID, f, func(p float64) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", att.OrigFilename)
	assert.Equal(t, "application/pdf", att.Mime)
	assert.Equal(t, int64(len(data)), att.SizeBytes)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 0.0, seen[0])
	assert.Equal(t, 1.0, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "progress went backwards at %d", i)
	}
	for _, p := range seen[:len(seen)-1] {
		assert.Less(t, p, 1.0)
	}
}

func TestClient_UploadFailureNeverReportsComplete(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	expID := srv.AddExpense(1, apitest.Payload("Taxi", 1, 10))
	srv.FailUpload("bad.png", 1)
	c := srv.Client(t)

	var last float64
	_, err := c.UploadAttachment(context.Background(), expID,
		core.FileFromBytes("bad.png", "image/png", []byte("png")),
		func(p float64) { last = p })

	var te *core.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.Less(t, last, 1.0)
	assert.Empty(t, srv.Attachments(expID))
}

func TestClient_UploadMissingAttachmentInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := api.New(api.Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.UploadAttachment(context.Background(), 1, core.FileFromBytes("a.pdf", "application/pdf", []byte("%PDF")), nil)
	var te *core.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "Invalid upload response", te.Message)
}

func TestClient_FetchAttachment(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	expID := srv.AddExpense(1, apitest.Payload("Taxi", 1, 10))
	att := srv.AddAttachment(expID, "r.png", "image/png", []byte("pngdata"))
	c := srv.Client(t)

	content, err := c.FetchAttachment(context.Background(), att.ID)
	require.NoError(t, err)
	defer content.Body.Close()

	body, err := io.ReadAll(content.Body)
	require.NoError(t, err)
	assert.Equal(t, "pngdata", string(body))
	assert.Equal(t, "image/png", content.Mime)
	assert.Equal(t, int64(7), content.Size)
}

func TestClient_DraftRoundTrip(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(3, false)
	srv.AddDraft(3, 99, apitest.Payload("Someone else", 1, 1))
	c := srv.Client(t)
	ctx := context.Background()

	d, err := c.CreateDraft(ctx, 3, apitest.Payload("Taxi", 2, 15))
	require.NoError(t, err)
	assert.Equal(t, "30", d.Summary.Total.String())

	mine, err := c.ListDrafts(ctx, 3, core.ScopeMine)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, d.ID, mine[0].ID)

	all, err := c.ListDrafts(ctx, 3, core.ScopeAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	created, err := c.SubmitDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotNil(t, created.Warnings)

	exps, err := c.ListExpenses(ctx, 3)
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "30", exps[0].Total.String())
}

func TestClient_MonthLockTransitions(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(5, false)
	c := srv.Client(t)
	ctx := context.Background()

	require.NoError(t, c.CloseMonth(ctx, 5))
	sum, err := c.MonthSummary(ctx, 5)
	require.NoError(t, err)
	assert.True(t, sum.Month.IsClosed)
	require.NotNil(t, sum.Month.ClosedBy)

	var te *core.TransferError
	require.ErrorAs(t, c.CloseMonth(ctx, 5), &te)
	assert.Equal(t, http.StatusConflict, te.Status)

	require.NoError(t, c.ReopenMonth(ctx, 5))
	sum, err = c.MonthSummary(ctx, 5)
	require.NoError(t, err)
	assert.False(t, sum.Month.IsClosed)
}
