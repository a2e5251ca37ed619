package extract

import (
	"io"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// readPDFText returns the plain text of every page in the PDF at path.
// The pdf package panics on some malformed inputs, so panics become errors.
func readPDFText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("extract: parse pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "extract: open pdf")
	}
	defer f.Close()

	if r.NumPage() == 0 {
		return "", eris.New("extract: pdf has no pages")
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", eris.Wrap(err, "extract: read pdf text")
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", eris.Wrap(err, "extract: read pdf text")
	}
	return string(b), nil
}
