package extract

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// Stage writes src to a fresh file under dir and returns its path with a
// cleanup func that removes it. cleanup is safe to call more than once.
// The file is already removed when Stage returns an error.
func Stage(dir, originalName string, src io.Reader) (string, func(), error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, eris.Wrap(err, "extract: ensure stage dir")
	}

	out, err := os.CreateTemp(dir, "upload-*"+filepath.Ext(originalName))
	if err != nil {
		return "", nil, eris.Wrap(err, "extract: create staged file")
	}
	path := out.Name()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			_ = os.Remove(path)
		})
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		cleanup()
		return "", nil, eris.Wrap(err, "extract: write staged file")
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", nil, eris.Wrap(err, "extract: close staged file")
	}
	return path, cleanup, nil
}
