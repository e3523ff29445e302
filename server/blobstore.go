package server

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/errors"
)

// BlobStore backs workspace.* and the /fs, /media HTTP routes. Only the
// local backend is implemented; an S3 backend is configurable (FSConfig
// per SPEC_FULL.md) but wiring an AWS SDK isn't grounded in anything the
// teacher or the rest of the corpus imports, so it's left unimplemented.
type BlobStore interface {
	List(prefix string) ([]string, error)
	Get(key string) ([]byte, error)
	Put(key string, data []byte) error
	Delete(key string) error
}

// newBlobStore builds the configured BlobStore, defaulting to a local
// directory rooted at cfg.FS.LocalRoot (or ".gateway/workspace" if unset).
func newBlobStore(cfg *am.Config) (BlobStore, error) {
	if cfg != nil && cfg.FS.Backend == "s3" {
		return nil, errors.New("s3 blob backend is not implemented")
	}
	root := ".gateway/workspace"
	if cfg != nil && cfg.FS.LocalRoot != "" {
		root = cfg.FS.LocalRoot
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create blob store root")
	}
	return &localBlobStore{root: root}, nil
}

type localBlobStore struct {
	root string
}

// resolve guards against path traversal: a key must stay within root.
func (l *localBlobStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	full := filepath.Join(l.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(l.root)+string(filepath.Separator)) && full != filepath.Clean(l.root) {
		return "", ErrInvalidRequest
	}
	return full, nil
}

func (l *localBlobStore) List(prefix string) ([]string, error) {
	base, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.Walk(l.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasPrefix(path, base) {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return nil
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list blobs")
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *localBlobStore) Get(key string) ([]byte, error) {
	full, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read blob")
	}
	return data, nil
}

func (l *localBlobStore) Put(key string, data []byte) error {
	full, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return errors.Wrap(err, "failed to create blob parent dir")
	}
	if err := os.WriteFile(full, data, 0640); err != nil {
		return errors.Wrap(err, "failed to write blob")
	}
	return nil
}

func (l *localBlobStore) Delete(key string) error {
	full, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrap(err, "failed to delete blob")
	}
	return nil
}
