// Package apitest provides an in-memory backend implementing the ledger HTTP
// surface, for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/api"
	"ledger/internal/core"
)

type storedAttachment struct {
	core.Attachment
	data []byte
}

// Server is a fake backend. All state is guarded by mu.
type Server struct {
	*httptest.Server

	Token  string
	UserID int64

	mu          sync.Mutex
	nextID      int64
	months      map[int64]*core.Month
	expenses    map[int64]*core.Expense
	attachments map[int64]*storedAttachment
	drafts      map[int64]*core.ExpenseDraft
	calls       map[string]int
	failUploads map[string]int
	failRoutes  map[string]int
	fetchGate   chan struct{}
}

// NewServer starts a backend closed automatically at test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		Token:       "test-token",
		UserID:      1,
		nextID:      100,
		months:      make(map[int64]*core.Month),
		expenses:    make(map[int64]*core.Expense),
		attachments: make(map[int64]*storedAttachment),
		drafts:      make(map[int64]*core.ExpenseDraft),
		calls:       make(map[string]int),
		failUploads: make(map[string]int),
		failRoutes:  make(map[string]int),
	}

	mux := http.NewServeMux()
	s.handle(mux, "GET /api/expenses/{id}/attachments", s.listAttachments)
	s.handle(mux, "POST /api/expenses/{id}/attachments", s.uploadAttachment)
	s.handle(mux, "DELETE /api/attachments/{id}", s.deleteAttachment)
	s.handle(mux, "GET /api/attachments/{id}", s.fetchAttachment)
	s.handle(mux, "GET /api/months/{id}/drafts", s.listDrafts)
	s.handle(mux, "POST /api/months/{id}/drafts/expenses", s.createDraft)
	s.handle(mux, "POST /api/drafts/{id}/submit", s.submitDraft)
	s.handle(mux, "DELETE /api/drafts/{id}", s.deleteDraft)
	s.handle(mux, "GET /api/months/{id}/summary", s.monthSummary)
	s.handle(mux, "GET /api/months/{id}/expenses", s.listExpenses)
	s.handle(mux, "POST /api/months/{id}/expenses", s.createExpense)
	s.handle(mux, "POST /api/months/{id}/close", s.closeMonth)
	s.handle(mux, "POST /api/months/{id}/reopen", s.reopenMonth)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Client returns an API client pointed at the server with a valid token.
func (s *Server) Client(t testing.TB) *api.Client {
	t.Helper()
	c, err := api.New(api.Options{BaseURL: s.URL, Token: s.Token, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	return c
}

func (s *Server) handle(mux *http.ServeMux, pattern string, fn func(http.ResponseWriter, *http.Request, int64)) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[pattern]++
		fail := s.failRoutes[pattern] > 0
		if fail {
			s.failRoutes[pattern]--
		}
		s.mu.Unlock()

		if fail {
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad id")
			return
		}
		fn(w, r, id)
	})
}

// Calls returns how many requests hit pattern, e.g.
// "POST /api/expenses/{id}/attachments".
func (s *Server) Calls(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pattern]
}

// TotalCalls returns the number of requests received on any route.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// MutatingCalls counts POST and DELETE requests.
func (s *Server) MutatingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for pattern, c := range s.calls {
		if pattern[:4] == "POST" || pattern[:6] == "DELETE" {
			n += c
		}
	}
	return n
}

// ResetCalls zeroes the call counters.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// AddMonth registers an accounting month.
func (s *Server) AddMonth(id int64, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.months[id] = &core.Month{ID: id, Year: 2025, Month: int(id%12) + 1, IsClosed: closed}
}

// SetClosed flips the lock flag directly, as another admin would.
func (s *Server) SetClosed(id int64, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.months[id]; ok {
		m.IsClosed = closed
	}
}

// AddExpense stores a committed expense and returns its id.
func (s *Server) AddExpense(monthID int64, p core.DraftPayload) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addExpenseLocked(monthID, p)
}

// AddAttachment stores a file directly, bypassing upload rules.
func (s *Server) AddAttachment(expenseID int64, name, mime string, data []byte) core.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAttachmentLocked(expenseID, name, mime, data)
}

// AddDraft stores a draft owned by ownerID.
func (s *Server) AddDraft(monthID, ownerID int64, p core.DraftPayload) core.ExpenseDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addDraftLocked(monthID, ownerID, p)
}

// Attachments returns the stored attachments of an expense ordered by id.
func (s *Server) Attachments(expenseID int64) []core.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachmentsLocked(expenseID)
}

// Drafts returns every stored draft of a month ordered by id.
func (s *Server) Drafts(monthID int64) []core.ExpenseDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ExpenseDraft
	for _, d := range s.drafts {
		if d.MonthID == monthID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Expenses returns every expense of a month ordered by id.
func (s *Server) Expenses(monthID int64) []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expensesLocked(monthID)
}

// FailUpload makes the next n uploads of a file with this name answer 500.
func (s *Server) FailUpload(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUploads[name] = n
}

// FailRoute makes the next n requests to pattern answer 503.
func (s *Server) FailRoute(pattern string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRoutes[pattern] = n
}

// HoldFetches blocks binary fetches until the returned func is called.
func (s *Server) HoldFetches() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.fetchGate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.fetchGate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *Server) listAttachments(w http.ResponseWriter, _ *http.Request, expenseID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expenses[expenseID]; !ok {
		writeError(w, http.StatusNotFound, "Expense not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.attachmentsLocked(expenseID)})
}

func (s *Server) uploadAttachment(w http.ResponseWriter, r *http.Request, expenseID int64) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart body")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expenses[expenseID]
	if !ok {
		writeError(w, http.StatusNotFound, "Expense not found")
		return
	}
	if s.closedLocked(exp.MonthID) {
		writeError(w, http.StatusConflict, "Month is closed")
		return
	}
	if n := s.failUploads[hdr.Filename]; n > 0 {
		s.failUploads[hdr.Filename] = n - 1
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if len(s.attachmentsLocked(expenseID)) >= core.MaxAttachmentsPerExpense {
		writeError(w, http.StatusBadRequest, "Attachment limit reached")
		return
	}
	if len(data) > core.MaxAttachmentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	att := s.addAttachmentLocked(expenseID, hdr.Filename, hdr.Header.Get("Content-Type"), data)
	writeJSON(w, http.StatusCreated, map[string]any{"attachment": att})
}

func (s *Server) deleteAttachment(w http.ResponseWriter, _ *http.Request, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attachments[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Attachment not found")
		return
	}
	if exp, ok := s.expenses[att.ExpenseID]; ok && s.closedLocked(exp.MonthID) {
		writeError(w, http.StatusConflict, "Month is closed")
		return
	}
	delete(s.attachments, id)
	s.recountLocked(att.ExpenseID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) fetchAttachment(w http.ResponseWriter, r *http.Request, id int64) {
	s.mu.Lock()
	gate := s.fetchGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	att, ok := s.attachments[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Attachment not found")
		return
	}
	w.Header().Set("Content-Type", att.Mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(att.data)))
	if r.URL.Query().Get("inline") != "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.OrigFilename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(att.data)
}

func (s *Server) listDrafts(w http.ResponseWriter, r *http.Request, monthID int64) {
	if r.URL.Query().Get("kind") != core.DraftKindExpense {
		writeError(w, http.StatusBadRequest, "unsupported kind")
		return
	}
	scope := core.DraftScope(r.URL.Query().Get("scope"))
	if scope != core.ScopeAll && scope != core.ScopeMine {
		writeError(w, http.StatusBadRequest, "bad scope")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	items := []core.ExpenseDraft{}
	for _, d := range s.drafts {
		if d.MonthID != monthID {
			continue
		}
		if scope == core.ScopeMine && d.OwnerID != s.UserID {
			continue
		}
		items = append(items, *d)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) createDraft(w http.ResponseWriter, r *http.Request, monthID int64) {
	var p core.DraftPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.months[monthID]; !ok {
		writeError(w, http.StatusNotFound, "Month not found")
		return
	}
	if s.closedLocked(monthID) {
		writeError(w, http.StatusConflict, "Month is closed")
		return
	}
	d := s.addDraftLocked(monthID, s.UserID, p)
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) submitDraft(w http.ResponseWriter, _ *http.Request, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Draft not found")
		return
	}
	if s.closedLocked(d.MonthID) {
		writeError(w, http.StatusConflict, "Month is closed")
		return
	}
	expID := s.addExpenseLocked(d.MonthID, d.Payload)
	delete(s.drafts, id)
	writeJSON(w, http.StatusOK, core.CreatedExpense{ID: expID, Warnings: []core.Warning{}})
}

func (s *Server) deleteDraft(w http.ResponseWriter, _ *http.Request, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Draft not found")
		return
	}
	if s.closedLocked(d.MonthID) {
		writeError(w, http.StatusConflict, "Month is closed")
		return
	}
	delete(s.drafts, id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) monthSummary(w http.ResponseWriter, _ *http.Request, monthID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.months[monthID]
	if !ok {
		writeError(w, http.StatusNotFound, "Month not found")
		return
	}
	writeJSON(w, http.StatusOK, core.MonthSummary{Month: *m})
}

func (s *Server) listExpenses(w http.ResponseWriter, _ *http.Request, monthID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"items": s.expensesLocked(monthID)})
}

func (s *Server) createExpense(w http.ResponseWriter, r *http.Request, monthID int64) {
	var p core.DraftPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.months[monthID]; !ok {
		writeError(w, http.StatusNotFound, "Month not found")
		return
	}
	if s.closedLocked(monthID) {
		writeError(w, http.StatusConflict, "Month is closed")
		return
	}
	id := s.addExpenseLocked(monthID, p)
	writeJSON(w, http.StatusCreated, core.CreatedExpense{ID: id, Warnings: []core.Warning{}})
}

func (s *Server) closeMonth(w http.ResponseWriter, _ *http.Request, monthID int64) {
	s.setLock(w, monthID, true)
}

func (s *Server) reopenMonth(w http.ResponseWriter, _ *http.Request, monthID int64) {
	s.setLock(w, monthID, false)
}

func (s *Server) setLock(w http.ResponseWriter, monthID int64, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.months[monthID]
	if !ok {
		writeError(w, http.StatusNotFound, "Month not found")
		return
	}
	if m.IsClosed == closed {
		writeError(w, http.StatusConflict, "Month already in this state")
		return
	}
	m.IsClosed = closed
	if closed {
		now := time.Now().UTC()
		m.ClosedAt = &now
		m.ClosedBy = &core.UserRef{ID: s.UserID, Name: "admin"}
	} else {
		m.ClosedAt = nil
		m.ClosedBy = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) closedLocked(monthID int64) bool {
	m, ok := s.months[monthID]
	return ok && m.IsClosed
}

func (s *Server) addExpenseLocked(monthID int64, p core.DraftPayload) int64 {
	s.nextID++
	id := s.nextID
	s.expenses[id] = &core.Expense{
		ID:          id,
		MonthID:     monthID,
		ExpenseDate: p.ExpenseDate,
		Category:    p.Category,
		Title:       p.Title,
		Qty:         p.Qty,
		UnitAmount:  p.UnitAmount,
		Total:       p.Total(),
		Comment:     p.Comment,
		Tags:        p.Tags,
	}
	return id
}

func (s *Server) addAttachmentLocked(expenseID int64, name, mime string, data []byte) core.Attachment {
	s.nextID++
	att := &storedAttachment{
		Attachment: core.Attachment{
			ID:           s.nextID,
			ExpenseID:    expenseID,
			Mime:         mime,
			OrigFilename: name,
			SizeBytes:    int64(len(data)),
			CreatedAt:    time.Now().UTC(),
		},
		data: append([]byte(nil), data...),
	}
	s.attachments[att.ID] = att
	s.recountLocked(expenseID)
	return att.Attachment
}

func (s *Server) addDraftLocked(monthID, ownerID int64, p core.DraftPayload) core.ExpenseDraft {
	s.nextID++
	d := &core.ExpenseDraft{
		ID:        s.nextID,
		MonthID:   monthID,
		OwnerID:   ownerID,
		Kind:      core.DraftKindExpense,
		Payload:   p,
		Summary:   p.Summary(),
		CreatedAt: time.Now().UTC(),
	}
	s.drafts[d.ID] = d
	return *d
}

func (s *Server) attachmentsLocked(expenseID int64) []core.Attachment {
	out := []core.Attachment{}
	for _, a := range s.attachments {
		if a.ExpenseID == expenseID {
			out = append(out, a.Attachment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) expensesLocked(monthID int64) []core.Expense {
	out := []core.Expense{}
	for _, e := range s.expenses {
		if e.MonthID == monthID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) recountLocked(expenseID int64) {
	if e, ok := s.expenses[expenseID]; ok {
		e.AttachmentsCount = len(s.attachmentsLocked(expenseID))
	}
}

// Payload is a convenience constructor for tests.
func Payload(title string, qty, unit int64) core.DraftPayload {
	return core.DraftPayload{
		ExpenseDate: "2025-03-01",
		Category:    "Прочее",
		Title:       title,
		Qty:         decimal.NewFromInt(qty),
		UnitAmount:  decimal.NewFromInt(unit),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
