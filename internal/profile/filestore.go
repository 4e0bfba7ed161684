// internal/profile/filestore.go
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Profiles  map[string]Profile  `json:"profiles"`
	Settings  map[string]Settings `json:"settings"`
	Blacklist Blacklist           `json:"blacklist"`
}

// FileStore keeps everything in one JSON file. Writes replace the file
// atomically.
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore uses the JSON file at path. A missing file reads as empty and
// is created on the first save.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger.Named("profile_file")}
}

func (s *FileStore) load() (*fileDocument, error) {
	doc := &fileDocument{}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read profile store %s: %w", s.path, err)
	default:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to parse profile store %s: %w", s.path, err)
		}
	}
	if doc.Profiles == nil {
		doc.Profiles = make(map[string]Profile)
	}
	if doc.Settings == nil {
		doc.Settings = make(map[string]Settings)
	}
	return doc, nil
}

func (s *FileStore) save(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write profile store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write profile store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace profile store: %w", err)
	}
	s.logger.Debug("Profile store saved.", zap.String("path", s.path))
	return nil
}

// update loads the document, applies fn and saves it under the lock.
func (s *FileStore) update(fn func(doc *fileDocument)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	fn(doc)
	return s.save(doc)
}

func (s *FileStore) read() (*fileDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) Profile(ctx context.Context, key string) (Profile, error) {
	doc, err := s.read()
	if err != nil {
		return Profile{}, err
	}
	p, ok := doc.Profiles[key]
	if !ok {
		return Profile{}, fmt.Errorf("%w: profile %q", ErrNotFound, key)
	}
	p.Key = key
	return p, nil
}

// ListProfiles returns every profile sorted by key.
func (s *FileStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(doc.Profiles))
	for key, p := range doc.Profiles {
		p.Key = key
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FileStore) SaveProfile(ctx context.Context, p Profile) error {
	if p.Key == "" {
		return fmt.Errorf("profile: key is required")
	}
	return s.update(func(doc *fileDocument) { doc.Profiles[p.Key] = p })
}

func (s *FileStore) Settings(ctx context.Context, site string) (Settings, error) {
	doc, err := s.read()
	if err != nil {
		return Settings{}, err
	}
	st, ok := doc.Settings[site]
	if !ok {
		return DefaultSettings(site), nil
	}
	st.Site = site
	return st, nil
}

func (s *FileStore) SaveSettings(ctx context.Context, st Settings) error {
	if st.Site == "" {
		return fmt.Errorf("profile: settings need a site")
	}
	return s.update(func(doc *fileDocument) { doc.Settings[st.Site] = st })
}

func (s *FileStore) Blacklist(ctx context.Context) (Blacklist, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Blacklist, nil
}

func (s *FileStore) SaveBlacklist(ctx context.Context, b Blacklist) error {
	return s.update(func(doc *fileDocument) { doc.Blacklist = b })
}

// Close is a no-op; the file is not held open.
func (s *FileStore) Close() error { return nil }
