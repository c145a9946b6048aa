package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/api/apitest"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/log"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testConfig(srv *apitest.Server, role core.Role) *config.Config {
	return &config.Config{
		BaseURL:     srv.URL,
		Token:       srv.Token,
		HTTPTimeout: 5 * time.Second,
		Role:        string(role),
		BlobStore:   "memory",
		LogLevel:    "error",
		LogFormat:   "text",
	}
}

// run executes ledgerctl with args and returns stdout, stderr and the error.
func run(t *testing.T, cfg *config.Config, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand(cfg, log.Discard())
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writePNG(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, pngHeader, 0o600))
	return p
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(&config.Config{}, nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "ledgerctl", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(&config.Config{}, nil)
	paths := [][]string{
		{"attach", "list"}, {"attach", "upload"}, {"attach", "get"}, {"attach", "rm"},
		{"drafts", "list"}, {"drafts", "save"}, {"drafts", "open"}, {"drafts", "submit"}, {"drafts", "rm"},
		{"expense", "list"}, {"expense", "create"},
		{"month", "status"}, {"month", "close"}, {"month", "reopen"},
	}
	for _, p := range paths {
		t.Run(p[0]+" "+p[1], func(t *testing.T) {
			sub, _, err := cmd.Find(p)
			require.NoError(t, err)
			assert.Equal(t, p[1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(&config.Config{}, nil)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	monthFlag := cmd.PersistentFlags().Lookup("month")
	require.NotNil(t, monthFlag)
	assert.Equal(t, "0", monthFlag.DefValue)
}

func TestExpenseCreateFlags(t *testing.T) {
	cmd := NewRootCommand(&config.Config{}, nil)
	create, _, err := cmd.Find([]string{"expense", "create"})
	require.NoError(t, err)

	fileFlag := create.Flags().Lookup("file")
	require.NotNil(t, fileFlag)
	assert.Equal(t, "f", fileFlag.Shorthand)

	qtyFlag := create.Flags().Lookup("qty")
	require.NotNil(t, qtyFlag)
	assert.Equal(t, "1", qtyFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	srv := apitest.NewServer(t)
	_, _, err := run(t, testConfig(srv, core.RoleAdmin), "--format", "yaml", "month", "status", "--month", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Zero(t, srv.TotalCalls())
}

func TestNoMonthSelected(t *testing.T) {
	srv := apitest.NewServer(t)
	_, _, err := run(t, testConfig(srv, core.RoleAdmin), "month", "status")
	require.ErrorIs(t, err, core.ErrNoMonth)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMonthFromConfig(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(7, false)
	cfg := testConfig(srv, core.RoleAdmin)
	cfg.MonthID = 7

	out, _, err := run(t, cfg, "month", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "month 7")
	assert.Contains(t, out, "open")
}

func TestMonthCloseReopen(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	cfg := testConfig(srv, core.RoleAdmin)

	out, _, err := run(t, cfg, "--month", "1", "month", "close")
	require.NoError(t, err)
	assert.Contains(t, out, "closed")

	_, _, err = run(t, cfg, "--month", "1", "month", "close")
	require.ErrorIs(t, err, core.ErrLockTransition)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, _, err = run(t, cfg, "--month", "1", "--format", "json", "month", "reopen")
	require.NoError(t, err)
	var m core.Month
	decodeData(t, out, &m)
	assert.False(t, m.IsClosed)
}

func TestMonthClose_Accountant(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)

	_, _, err := run(t, testConfig(srv, core.RoleAccountant), "--month", "1", "month", "close")
	require.ErrorIs(t, err, core.ErrForbiddenRole)
	assert.Zero(t, srv.MutatingCalls())
}

func TestExpenseCreateWithFile(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	receipt := writePNG(t, "receipt.png")

	out, _, err := run(t, testConfig(srv, core.RoleAccountant), "--month", "1", "--format", "json",
		"expense", "create",
		"--date", "2025-03-01", "--category", "Прочее", "--title", "Bread",
		"--amount", "3,50", "--file", receipt)
	require.NoError(t, err)

	var view createdView
	decodeData(t, out, &view)
	require.NotZero(t, view.Expense.ID)
	require.NotNil(t, view.Upload)
	require.Len(t, view.Upload.Results, 1)
	assert.Empty(t, view.Upload.Results[0].Error)

	expenses := srv.Expenses(1)
	require.Len(t, expenses, 1)
	assert.Equal(t, "3.5", expenses[0].UnitAmount.String())
	atts := srv.Attachments(view.Expense.ID)
	require.Len(t, atts, 1)
	assert.Equal(t, "receipt.png", atts[0].OrigFilename)
	assert.Equal(t, "image/png", atts[0].Mime)
}

func TestExpenseCreate_RejectedFile(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	notes := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("plain text"), 0o600))

	out, _, err := run(t, testConfig(srv, core.RoleAccountant), "--month", "1",
		"expense", "create",
		"--date", "2025-03-01", "--category", "Прочее", "--title", "Bread",
		"--amount", "2", "--file", notes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 file(s) not attached")
	assert.Contains(t, out, "SKIP  notes.txt")
	assert.Len(t, srv.Expenses(1), 1)
	assert.Zero(t, srv.Calls("POST /api/expenses/{id}/attachments"))
}

func TestExpenseCreate_LockedMonth(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, true)
	receipt := writePNG(t, "receipt.png")

	_, _, err := run(t, testConfig(srv, core.RoleAccountant), "--month", "1",
		"expense", "create",
		"--date", "2025-03-01", "--category", "Прочее", "--title", "Bread",
		"--amount", "2", "--file", receipt)
	require.Error(t, err)
	assert.True(t, core.IsLocked(err))
	assert.Equal(t, ExitLocked, GetExitCode(err))
	assert.Zero(t, srv.MutatingCalls())
	assert.Empty(t, srv.Expenses(1))
}

func TestExpenseCreate_BadAmount(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)

	_, _, err := run(t, testConfig(srv, core.RoleAccountant), "--month", "1",
		"expense", "create",
		"--date", "2025-03-01", "--category", "Прочее", "--title", "Bread", "--amount", "-3")
	require.ErrorIs(t, err, core.ErrInvalidAmount)
	assert.Zero(t, srv.MutatingCalls())
}

func TestExpenseList(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	srv.AddExpense(1, apitest.Payload("Rent", 1, 700))

	out, _, err := run(t, testConfig(srv, core.RoleViewer), "--month", "1", "expense", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Rent")
	assert.Contains(t, out, "700.00")
}

func TestDraftsFlow(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	cfg := testConfig(srv, core.RoleAccountant)

	out, _, err := run(t, cfg, "--month", "1", "--format", "json",
		"drafts", "save",
		"--date", "2025-03-01", "--category", "Коммуналка", "--title", "Свет",
		"--qty", "2", "--amount", "150", "--tag", "home")
	require.NoError(t, err)
	var saved core.ExpenseDraft
	decodeData(t, out, &saved)
	require.NotZero(t, saved.ID)
	assert.Equal(t, "300", saved.Summary.Total.String())

	id := strconv.FormatInt(saved.ID, 10)

	out, _, err = run(t, cfg, "--month", "1", "drafts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Свет")
	assert.Contains(t, out, "300.00")

	out, _, err = run(t, cfg, "--month", "1", "drafts", "open", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Коммуналка")
	assert.Contains(t, out, "home")

	out, _, err = run(t, cfg, "--month", "1", "drafts", "submit", id)
	require.NoError(t, err)
	assert.Contains(t, out, "submitted as expense")
	assert.Empty(t, srv.Drafts(1))
	assert.Len(t, srv.Expenses(1), 1)
}

func TestDraftsRm(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	d := srv.AddDraft(1, srv.UserID, apitest.Payload("Taxi", 1, 12))

	_, _, err := run(t, testConfig(srv, core.RoleAccountant), "--month", "1", "drafts", "rm", strconv.FormatInt(d.ID, 10))
	require.NoError(t, err)
	assert.Empty(t, srv.Drafts(1))
}

func TestDraftsOpen_Unknown(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)

	_, _, err := run(t, testConfig(srv, core.RoleAdmin), "--month", "1", "drafts", "open", "999")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestDraftsSave_Viewer(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)

	_, _, err := run(t, testConfig(srv, core.RoleViewer), "--month", "1",
		"drafts", "save", "--date", "2025-03-01", "--category", "Прочее", "--title", "X", "--amount", "1")
	require.ErrorIs(t, err, core.ErrForbiddenRole)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Zero(t, srv.MutatingCalls())
}

func TestAttachUploadListGetRm(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	expID := srv.AddExpense(1, apitest.Payload("Lunch", 1, 10))
	cfg := testConfig(srv, core.RoleAccountant)
	exp := strconv.FormatInt(expID, 10)

	out, _, err := run(t, cfg, "--month", "1", "attach", "upload", exp, writePNG(t, "a.png"), writePNG(t, "b.png"))
	require.NoError(t, err)
	assert.Contains(t, out, "OK    a.png")
	assert.Contains(t, out, "OK    b.png")
	assert.Contains(t, out, "now has 2 attachment(s)")

	atts := srv.Attachments(expID)
	require.Len(t, atts, 2)

	out, _, err = run(t, cfg, "--month", "1", "attach", "list", exp)
	require.NoError(t, err)
	assert.Contains(t, out, "a.png")
	assert.Contains(t, out, "image/png")

	dst := filepath.Join(t.TempDir(), "copy.png")
	_, stderr, err := run(t, cfg, "--month", "1", "attach", "get", strconv.FormatInt(atts[0].ID, 10), "-o", dst)
	require.NoError(t, err)
	assert.Contains(t, stderr, "saved")
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)

	_, _, err = run(t, cfg, "--month", "1", "attach", "rm", exp, strconv.FormatInt(atts[0].ID, 10))
	require.NoError(t, err)
	assert.Len(t, srv.Attachments(expID), 1)
}

func TestAttachUpload_PartialFailure(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	expID := srv.AddExpense(1, apitest.Payload("Lunch", 1, 10))
	srv.FailUpload("bad.png", 1)

	out, _, err := run(t, testConfig(srv, core.RoleAccountant), "--month", "1", "--format", "json",
		"attach", "upload", strconv.FormatInt(expID, 10), writePNG(t, "bad.png"), writePNG(t, "good.png"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var view batchReportView
	decodeData(t, out, &view)
	require.Len(t, view.Results, 2)
	assert.NotEmpty(t, view.Results[0].Error)
	assert.Empty(t, view.Results[1].Error)
	assert.Len(t, srv.Attachments(expID), 1)
}

func TestAttachUpload_Viewer(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)
	expID := srv.AddExpense(1, apitest.Payload("Lunch", 1, 10))
	receipt := writePNG(t, "a.png")
	srv.ResetCalls()

	_, _, err := run(t, testConfig(srv, core.RoleViewer), "--month", "1", "attach", "upload", strconv.FormatInt(expID, 10), receipt)
	require.ErrorIs(t, err, core.ErrForbiddenRole)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Zero(t, srv.MutatingCalls())
	assert.Zero(t, srv.Calls("GET /api/expenses/{id}/attachments"))
	assert.Empty(t, srv.Attachments(expID))
}

func TestAttachUpload_InvalidID(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddMonth(1, false)

	_, _, err := run(t, testConfig(srv, core.RoleAccountant), "--month", "1", "attach", "upload", "abc", "x.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid expense id "abc"`)
}
