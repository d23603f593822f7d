// Package extract inspects documents that are routed to manual review so the
// reviewer sees page counts and a text preview alongside the record.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	previewLimit = 2000
)

// ErrUnsupported is returned for media types the inspector cannot open.
var ErrUnsupported = errors.New("unsupported mime type")

// Report summarizes an inspected document.
type Report struct {
	MediaType string
	PageCount int
	Words     int
	Preview   string
}

// Inspector is the function shape the submission workflow depends on.
type Inspector func(ctx context.Context, data []byte, mediaType, fileName string) (Report, error)

// Inspect opens the payload and counts pages and words.
// Libraries used: github.com/ledongthuc/pdf (PDF); DOCX is read with archive/zip.
func Inspect(ctx context.Context, data []byte, mediaType, fileName string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	normalized := normalizeMimeType(mediaType, fileName, data)
	rep := Report{MediaType: normalized}
	var (
		text string
		err  error
	)
	switch normalized {
	case MimePDF:
		rep.PageCount, text, err = inspectPDF(data)
	case MimeDOCX:
		text, err = extractDOCX(data)
	default:
		return rep, fmt.Errorf("%w: %s", ErrUnsupported, normalized)
	}
	if err != nil {
		return rep, fmt.Errorf("inspect %s: %w", normalized, err)
	}
	rep.Words = len(strings.Fields(text))
	rep.Preview = preview(text)
	return rep, nil
}

func inspectPDF(data []byte) (int, string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return 0, "", err
	}
	pages := pdfReader.NumPage()
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		// Scanned PDFs often carry no text layer; the page count still helps.
		return pages, "", nil
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return pages, "", nil
	}
	return pages, buf.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty docx data")
	}
	readerAt := bytes.NewReader(data)
	zr, err := zip.NewReader(readerAt, int64(len(data)))
	if err != nil {
		return "", err
	}

	var docFile *zip.File
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New("document.xml file not found")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}

	return stripDocxXML(string(raw)), nil
}

func stripDocxXML(raw string) string {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return raw
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.WriteString(string(t))
		case xml.EndElement:
			if t.Name.Local == "p" || t.Name.Local == "br" {
				if buf.Len() > 0 {
					buf.WriteString("\n")
				}
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= previewLimit {
		return text
	}
	cut := text[:previewLimit]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}

func normalizeMimeType(mimeType string, fileName string, data []byte) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	if clean != "application/zip" && clean != "" && clean != "application/octet-stream" {
		return clean
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return MimePDF
	}
	if isZip(data) && hasEntry(data, "word/document.xml") {
		return MimeDOCX
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return MimePDF
	case ".docx":
		return MimeDOCX
	case ".doc":
		return MimeDOC
	default:
		return clean
	}
}

func isZip(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

func hasEntry(data []byte, entry string) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == entry {
			return true
		}
	}
	return false
}
