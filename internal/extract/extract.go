package extract

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"code.sajari.com/docconv"
	"github.com/rotisserie/eris"
)

var (
	// ErrUnsupportedFormat is returned when no extractor handles the declared type.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument is returned when extraction yields no text.
	ErrEmptyDocument = errors.New("document contains no text")
)

// Kind is the extraction strategy selected for a document.
type Kind string

const (
	KindUnknown Kind = ""
	KindPDF     Kind = "pdf"
	KindText    Kind = "text"
	KindDocx    Kind = "docx"
	KindHTML    Kind = "html"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var extensionKinds = map[string]Kind{
	".pdf":      KindPDF,
	".txt":      KindText,
	".text":     KindText,
	".md":       KindText,
	".markdown": KindText,
	".csv":      KindText,
	".docx":     KindDocx,
	".html":     KindHTML,
	".htm":      KindHTML,
}

// Detect picks a Kind from the file name, falling back to the content type.
func Detect(name, contentType string) Kind {
	if kind, ok := extensionKinds[strings.ToLower(filepath.Ext(name))]; ok {
		return kind
	}

	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	switch {
	case mediaType == "application/pdf":
		return KindPDF
	case mediaType == docxContentType:
		return KindDocx
	case mediaType == "text/html":
		return KindHTML
	case strings.HasPrefix(mediaType, "text/"):
		return KindText
	}
	return KindUnknown
}

// Document is one uploaded file held in memory.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Extractor turns uploaded documents into normalized plain text.
type Extractor struct {
	stageDir string
	pdfText  func(path string) (string, error)
}

// New returns an Extractor that stages PDFs under stageDir (os.TempDir when empty).
func New(stageDir string) *Extractor {
	return &Extractor{stageDir: stageDir, pdfText: readPDFText}
}

// Extract returns the normalized text of doc.
func (e *Extractor) Extract(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch Detect(doc.Name, doc.ContentType) {
	case KindPDF:
		text, err = e.extractPDF(doc)
	case KindText:
		text = decodeText(doc.Data)
	case KindDocx:
		text, _, err = docconv.ConvertDocx(bytes.NewReader(doc.Data))
		if err != nil {
			err = eris.Wrap(err, "extract: convert docx")
		}
	case KindHTML:
		text, _, err = docconv.ConvertHTML(bytes.NewReader(doc.Data), false)
		if err != nil {
			err = eris.Wrap(err, "extract: convert html")
		}
	default:
		return "", ErrUnsupportedFormat
	}
	if err != nil {
		return "", err
	}

	text = Normalize(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func (e *Extractor) extractPDF(doc Document) (string, error) {
	path, cleanup, err := Stage(e.stageDir, doc.Name, bytes.NewReader(doc.Data))
	if err != nil {
		return "", err
	}
	defer cleanup()

	return e.pdfText(path)
}

var (
	utf8BOM     = "\ufeff"
	blankLineRe = regexp.MustCompile(`\n(?:[ \t]*\n){2,}`)
)

func decodeText(data []byte) string {
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	return strings.TrimPrefix(text, utf8BOM)
}

// Normalize converts line endings to LF, collapses runs of blank lines into a
// single blank line and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = blankLineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
