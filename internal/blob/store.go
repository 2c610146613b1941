package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// URLPrefix is the public path under which stored files are served.
const URLPrefix = "/uploads/"

// Store keeps uploaded image bytes on the local filesystem, one uniquely
// named file per upload. Rows in the database reference files by public URL
// only; the store never sees database state.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving uploads dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating uploads dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute directory files are stored under.
func (s *Store) Root() string { return s.root }

// Save writes data to a freshly generated filename and returns the public
// URL for it. Names combine a timestamp with a random suffix so concurrent
// uploads never collide.
func (s *Store) Save(data []byte, originalName string) (string, error) {
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = ".jpg"
	}
	ts := time.Now().UTC().Format("2006-01-02T15-04-05")
	name := fmt.Sprintf("%s-%s%s", ts, uuid.NewString()[:8], ext)

	if err := os.WriteFile(filepath.Join(s.root, name), data, 0o644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	return URLPrefix + name, nil
}

// Path maps a public URL back to the absolute file path. URLs that do not
// point inside the store are rejected.
func (s *Store) Path(publicURL string) (string, error) {
	name, ok := strings.CutPrefix(publicURL, URLPrefix)
	if !ok {
		return "", fmt.Errorf("not a blob url: %q", publicURL)
	}
	p := filepath.Join(s.root, filepath.FromSlash(name))
	if !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("blob url escapes store: %q", publicURL)
	}
	return p, nil
}

// Delete removes the file behind publicURL. A missing file is not an error:
// row deletion has already committed by the time this runs, so the file is
// best-effort cleanup.
func (s *Store) Delete(publicURL string) error {
	p, err := s.Path(publicURL)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob: %w", err)
	}
	return nil
}
