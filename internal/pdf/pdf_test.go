package pdfutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// minimalPDF writes a PDF with the given number of blank pages and a correct
// cross-reference table.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestPageCount(t *testing.T) {
	n, err := PageCount(minimalPDF(3))
	if err != nil {
		t.Fatalf("page count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pages, got %d", n)
	}
}

func TestPageCountRejectsGarbage(t *testing.T) {
	if _, err := PageCount([]byte("definitely not a pdf")); err == nil {
		t.Fatalf("expected an error for non-PDF input")
	}
}

func TestVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/inside.pdf":
			w.Write(minimalPDF(2))
		case "/broken.pdf":
			w.Write([]byte("<html>oops</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	v := NewVerifier(srv.Client())
	ctx := context.Background()

	if n, err := v.Verify(ctx, srv.URL+"/inside.pdf", 2); err != nil || n != 2 {
		t.Fatalf("verify: n=%d err=%v", n, err)
	}
	if _, err := v.Verify(ctx, srv.URL+"/inside.pdf", 4); !errors.Is(err, ErrPageCountMismatch) {
		t.Fatalf("expected ErrPageCountMismatch, got %v", err)
	}
	if _, err := v.Verify(ctx, srv.URL+"/broken.pdf", 0); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := v.Verify(ctx, srv.URL+"/missing.pdf", 0); err == nil {
		t.Fatalf("expected download error")
	}
}
