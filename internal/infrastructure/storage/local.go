package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"infoportal/internal/errs"
	"infoportal/internal/ports"
)

// LocalStorage keeps attachments under a root directory on the local disk.
// Paths are slash-separated and validated against traversal.
type LocalStorage struct {
	root          string
	publicBaseURL string
	signer        *Signer
}

var _ ports.FileStorage = (*LocalStorage)(nil)

func NewLocalStorage(root string, publicBaseURL string, signer *Signer) (*LocalStorage, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(err, "create storage root")
	}
	return &LocalStorage{
		root:          root,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		signer:        signer,
	}, nil
}

func (s *LocalStorage) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if cleaned == "." || cleaned == string(filepath.Separator) ||
		strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage path %q", path)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *LocalStorage) Upload(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(err, "create attachment directory")
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return errs.Wrap(err, "write attachment")
	}
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fs.ErrNotExist
		}
		return nil, errs.Wrap(err, "read attachment")
	}
	return data, nil
}

// Remove drops the file at path, or the whole subtree when path names a
// directory (prefix removal).
func (s *LocalStorage) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return errs.Wrap(err, "remove attachment path")
	}
	return nil
}

func (s *LocalStorage) URL(path string) string {
	return s.publicBaseURL + "/api/attachments/" + strings.TrimLeft(path, "/")
}

func (s *LocalStorage) SignedURL(path string, ttl time.Duration) (string, error) {
	if s.signer == nil {
		return "", errors.New("signer is not configured")
	}
	token, err := s.signer.Sign(path, ttl)
	if err != nil {
		return "", err
	}
	return s.publicBaseURL + "/api/attachments/signed/" + token, nil
}

func (s *LocalStorage) VerifySignedToken(token string) (string, error) {
	if s.signer == nil {
		return "", errors.New("signer is not configured")
	}
	return s.signer.Verify(token)
}
