// Package media stores audio blobs durably and hands out time-limited
// signed URLs so the speech service can fetch them without credentials.
package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Store interface {
	Write(name string, data []byte) (string, error)
	Read(path string) ([]byte, error)
	SignedURL(path string, ttl time.Duration) (string, error)
}

type fsStore struct {
	dir     string
	baseURL string
	signKey []byte
	now     func() time.Time
}

func NewFSStore(dir, baseURL, signKey string) Store {
	return &fsStore{
		dir:     dir,
		baseURL: baseURL,
		signKey: []byte(signKey),
		now:     time.Now,
	}
}

func (s *fsStore) Write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return path, nil
}

func (s *fsStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read media file: %w", err)
	}
	return data, nil
}

// SignedURL builds <base>/<file>?expires=<unix>&sig=<hmac>. The signature
// covers the file name and expiry so neither can be swapped.
func (s *fsStore) SignedURL(path string, ttl time.Duration) (string, error) {
	name := filepath.Base(path)
	expires := s.now().Add(ttl).Unix()

	mac := hmac.New(sha256.New, s.signKey)
	fmt.Fprintf(mac, "%s:%d", name, expires)
	sig := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("%s/%s?expires=%s&sig=%s",
		s.baseURL, name, strconv.FormatInt(expires, 10), sig), nil
}
