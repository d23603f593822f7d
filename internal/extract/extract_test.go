package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestInspectDocx(t *testing.T) {
	doc := buildDocx(t, `<w:document xmlns:w="w"><w:body><w:p><w:t>Occupancy certificate</w:t></w:p><w:p><w:t>Fire NOC issued</w:t></w:p></w:body></w:document>`)

	rep, err := Inspect(context.Background(), doc, "application/zip", "noc.docx")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if rep.MediaType != MimeDOCX {
		t.Fatalf("expected docx media type, got %q", rep.MediaType)
	}
	if rep.Words != 5 {
		t.Fatalf("expected 5 words, got %d", rep.Words)
	}
	if !strings.Contains(rep.Preview, "Fire NOC issued") {
		t.Fatalf("unexpected preview %q", rep.Preview)
	}
}

func TestInspectRealZipRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notes.txt")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	_, err = Inspect(context.Background(), buf.Bytes(), "application/zip", "notes.zip")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestInspectLegacyDocUnsupported(t *testing.T) {
	rep, err := Inspect(context.Background(), []byte{0xD0, 0xCF, 0x11, 0xE0}, MimeDOC, "plan.doc")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if rep.MediaType != MimeDOC {
		t.Fatalf("expected media type to be reported, got %q", rep.MediaType)
	}
}

func TestInspectBrokenPDF(t *testing.T) {
	_, err := Inspect(context.Background(), []byte("%PDF-1.4 not really"), "", "plan.pdf")
	if err == nil {
		t.Fatal("expected error for truncated pdf")
	}
}

func TestPreviewTruncatesOnWordBoundary(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	got := preview(text)
	if len(got) > previewLimit {
		t.Fatalf("preview too long: %d", len(got))
	}
	if strings.HasSuffix(got, " ") || strings.HasSuffix(got, "wor") {
		t.Fatalf("preview cut mid-word: %q", got[len(got)-10:])
	}
}

func TestInspectHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Inspect(ctx, nil, MimePDF, "a.pdf"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
