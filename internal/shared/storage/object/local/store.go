package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"signalcraft-client/internal/shared/storage/object"
	"signalcraft-client/internal/shared/util"
)

// Store keeps recordings on the local filesystem.
type Store struct {
	baseDir string
}

// New creates a local store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Save writes r under the namespace directory with a unique prefix.
func (s *Store) Save(ctx context.Context, namespace string, fileName string, r io.Reader) (object.Info, error) {
	sanitizedName, err := util.SanitizeFileName(fileName)
	if err != nil {
		return object.Info{}, fmt.Errorf("sanitize file name: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return object.Info{}, err
	}

	dirKey := util.NamespaceKey(namespace)
	dirPath := filepath.Join(s.baseDir, dirKey)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return object.Info{}, fmt.Errorf("mkdir: %w", err)
	}

	finalName := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizedName)
	fullPath := filepath.Join(dirPath, finalName)
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return object.Info{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var sniff [512]byte
	n, readErr := io.ReadFull(r, sniff[:])
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		os.Remove(fullPath)
		return object.Info{}, fmt.Errorf("read sniff: %w", readErr)
	}
	if _, err := f.Write(sniff[:n]); err != nil {
		os.Remove(fullPath)
		return object.Info{}, fmt.Errorf("write sniff: %w", err)
	}

	written, err := io.Copy(f, r)
	if err != nil {
		os.Remove(fullPath)
		return object.Info{}, fmt.Errorf("write body: %w", err)
	}

	return object.Info{
		Key:       filepath.ToSlash(filepath.Join(dirKey, finalName)),
		SizeBytes: int64(n) + written,
		MimeType:  http.DetectContentType(sniff[:n]),
	}, nil
}

// Open opens a stored recording for reading.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

// Delete removes a recording. Missing files are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", object.ErrInvalidKey
	}
	return filepath.Join(s.baseDir, clean), nil
}

var _ object.Store = (*Store)(nil)
