package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"

	"ledger/internal/core"
)

// UploadAttachment posts one file as the multipart field "file". onProgress
// receives non-decreasing fractions in [0,1]; 1 is reported only after the
// backend accepted the file.
func (c *Client) UploadAttachment(ctx context.Context, expenseID int64, file core.File, onProgress func(float64)) (core.Attachment, error) {
	const op = "upload attachment"

	body, contentType, err := multipartBody(file)
	if err != nil {
		return core.Attachment{}, fmt.Errorf("%s: %w", op, err)
	}

	progress := &progressReader{r: bytes.NewReader(body), total: int64(len(body)), report: onProgress}
	progress.emit(0)

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/expenses/%d/attachments", expenseID), progress)
	if err != nil {
		return core.Attachment{}, &core.TransferError{Op: op, Err: err}
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)

	resp, err := c.send(req, op)
	if err != nil {
		progress.finish(false)
		return core.Attachment{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Attachment *core.Attachment `json:"attachment"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Attachment == nil {
		progress.finish(false)
		return core.Attachment{}, &core.TransferError{Op: op, Status: resp.StatusCode, Message: "Invalid upload response", Err: err}
	}
	progress.finish(true)
	return *out.Attachment, nil
}

func multipartBody(file core.File) ([]byte, string, error) {
	src, err := file.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer src.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	h.Set("Content-Type", file.Mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", file.Name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// progressReader reports the fraction of the request body consumed by the
// transport. The transport reads from its own goroutine, so state is locked.
type progressReader struct {
	r      io.Reader
	total  int64
	report func(float64)

	mu   sync.Mutex
	read int64
	last float64
	done bool
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		frac := float64(p.read) / float64(p.total)
		p.mu.Unlock()
		// The last body byte is not acceptance; hold 1 until the response.
		if frac >= 1 {
			frac = 0.99
		}
		p.emit(frac)
	}
	return n, err
}

func (p *progressReader) emit(frac float64) {
	if p.report == nil {
		return
	}
	// report runs under the lock so values reach the callback in order.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || frac < p.last {
		return
	}
	p.last = frac
	p.report(frac)
}

func (p *progressReader) finish(ok bool) {
	if ok {
		p.emit(1)
	}
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}
