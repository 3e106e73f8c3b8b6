// Package pdfutil inspects generated photobook PDFs with ledongthuc/pdf.
package pdfutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	pdf "github.com/ledongthuc/pdf"
)

const maxPDFBytes = 256 << 20

// ErrPageCountMismatch is returned when a PDF has an unexpected page count.
var ErrPageCountMismatch = errors.New("pdf page count mismatch")

// PageCount parses PDF bytes and returns the number of pages.
func PageCount(data []byte) (n int, err error) {
	// The parser panics on some malformed input.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	return doc.NumPage(), nil
}

// Verifier downloads a built PDF and checks its page count.
type Verifier struct {
	client *http.Client
}

// NewVerifier creates a verifier. A nil client uses http.DefaultClient.
func NewVerifier(client *http.Client) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{client: client}
}

// Verify fetches url and returns its page count. When want is positive, any
// other count fails with ErrPageCountMismatch.
func (v *Verifier) Verify(ctx context.Context, url string, want int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download pdf: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	n, err := PageCount(data)
	if err != nil {
		return 0, err
	}
	if want > 0 && n != want {
		return n, fmt.Errorf("%w: got %d pages, want %d", ErrPageCountMismatch, n, want)
	}
	return n, nil
}
