package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SirClappington/restq/internal/domain"
)

// FileExt is the extension of a persisted realm config file.
const FileExt = ".realm"

// FileStore keeps one YAML document per realm under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty config root", domain.ErrBadRequest)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create config root %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(realmID string) string {
	return filepath.Join(s.root, realmID+FileExt)
}

func (s *FileStore) Load(_ context.Context, realmID string) (domain.RealmConfig, bool, error) {
	var cfg domain.RealmConfig
	if err := domain.ValidateRealmID(realmID); err != nil {
		return cfg, false, err
	}
	b, err := os.ReadFile(s.path(realmID))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, errors.Join(ErrLoadConfig, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, false, errors.Join(ErrLoadConfig, fmt.Errorf("decode %s: %w", s.path(realmID), err))
	}
	return cfg, true, nil
}

// Save replaces the realm file atomically: the document is written to a
// temporary file in the same directory and renamed over the old one.
func (s *FileStore) Save(_ context.Context, realmID string, cfg domain.RealmConfig) error {
	if err := domain.ValidateRealmID(realmID); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Join(ErrSaveConfig, err)
	}
	tmp, err := os.CreateTemp(s.root, realmID+FileExt+".*.tmp")
	if err != nil {
		return errors.Join(ErrSaveConfig, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Join(ErrSaveConfig, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(ErrSaveConfig, err)
	}
	if err := os.Rename(tmp.Name(), s.path(realmID)); err != nil {
		return errors.Join(ErrSaveConfig, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, realmID string) error {
	if err := domain.ValidateRealmID(realmID); err != nil {
		return err
	}
	err := os.Remove(s.path(realmID))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("realm %q: %w", realmID, domain.ErrNotFound)
	}
	if err != nil {
		return errors.Join(ErrDeleteConfig, err)
	}
	return nil
}

// List returns the ids of every realm file under the root, sorted.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Join(ErrListRealms, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != FileExt {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), FileExt))
	}
	return ids, nil
}
