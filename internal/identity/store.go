package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/controlled-anonymity/client-go/internal/config"
	"github.com/controlled-anonymity/client-go/internal/util"
)

// Store persists the raw device identifier. Load returns "" when nothing is stored.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, id string) error
	Delete(ctx context.Context) error
}

// FileStore keeps the identifier in a single file. With a key set the file is
// sealed for one profile and does not load under another.
type FileStore struct {
	path          string
	encryptionKey string
	profile       string
}

func NewFileStore(dir, encryptionKey, profile string) *FileStore {
	return &FileStore{
		path:          filepath.Join(dir, config.IdentityStorageKey),
		encryptionKey: encryptionKey,
		profile:       profile,
	}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}

	value := strings.TrimSpace(string(b))
	if s.encryptionKey == "" || value == "" {
		return value, nil
	}
	id, err := util.OpenIdentity(s.encryptionKey, s.profile, value)
	if err != nil {
		return "", fmt.Errorf("open identity %s: %w", s.path, err)
	}
	return id, nil
}

func (s *FileStore) Save(ctx context.Context, id string) error {
	value := id
	if s.encryptionKey != "" {
		sealed, err := util.SealIdentity(s.encryptionKey, s.profile, id)
		if err != nil {
			return fmt.Errorf("seal identity: %w", err)
		}
		value = sealed
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	return writeFile(s.path, []byte(value+"\n"), 0o600)
}

func (s *FileStore) Delete(ctx context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove identity: %w", err)
	}
	return nil
}

// writeFile writes via a temp file in the same directory, then renames over the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RedisStore keeps the identifier under one key with no expiry.
type RedisStore struct {
	client goredis.Cmdable
	key    string
}

func NewRedisStore(client goredis.Cmdable, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (string, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get identity: %w", err)
	}
	return value, nil
}

func (s *RedisStore) Save(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, s.key, id, 0).Err(); err != nil {
		return fmt.Errorf("redis set identity: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del identity: %w", err)
	}
	return nil
}

type MemoryStore struct {
	mu    sync.Mutex
	value string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *MemoryStore) Save(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = id
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = ""
	return nil
}
