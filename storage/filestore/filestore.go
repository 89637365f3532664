// Package filestore keeps the shared key/value scope in a directory so
// that tabs running in separate processes can share it. Each key is one
// file; fsnotify turns the files written by other processes into change
// notifications.
package filestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-guard/internal/dispatch"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/storage"
	"github.com/rs/zerolog/log"
)

const (
	keyFilePrefix = "k_"
	tempPrefix    = ".tmp-"
)

// Store is a directory-backed storage.Store.
type Store struct {
	dir      string
	writerID string
	watcher  *fsnotify.Watcher
	events   *dispatch.Queue[storage.Change]
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu              sync.Mutex
	pendingRemovals map[string]int
	closed          bool
}

var _ storage.Store = (*Store)(nil)

// Open creates dir if needed and starts watching it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("[filestore Open] create dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("[filestore Open] new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("[filestore Open] watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		dir:             dir,
		writerID:        uuid.NewString(),
		watcher:         watcher,
		events:          dispatch.NewQueue[storage.Change](),
		ctx:             ctx,
		cancel:          cancel,
		pendingRemovals: make(map[string]int),
	}

	s.wg.Add(1)
	go s.processEvents()
	return s, nil
}

func (s *Store) Get(key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, interr.ErrClosed
	}
	_, value, ok, err := s.read(s.path(key))
	return value, ok, err
}

func (s *Store) Set(key, value string) error {
	if s.isClosed() {
		return interr.ErrClosed
	}

	if _, current, ok, err := s.read(s.path(key)); err == nil && ok && current == value {
		return nil
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("[filestore Set] create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(s.writerID + "\n" + value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("[filestore Set] write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[filestore Set] close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("[filestore Set] rename %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(key string) error {
	if s.isClosed() {
		return interr.ErrClosed
	}

	s.mu.Lock()
	s.pendingRemovals[key]++
	s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err == nil {
		return nil
	}

	s.mu.Lock()
	s.pendingRemovals[key]--
	if s.pendingRemovals[key] <= 0 {
		delete(s.pendingRemovals, key)
	}
	s.mu.Unlock()

	if os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("[filestore Remove] %s: %w", key, err)
}

func (s *Store) Subscribe(h func(storage.Change)) func() {
	return s.events.Subscribe(h)
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.watcher.Close()
	s.wg.Wait()
	s.events.Close()
	return err
}

func (s *Store) processEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			key, ok := keyFromPath(event.Name)
			if !ok {
				continue
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				s.handleWrite(key, event.Name)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				s.handleRemove(key)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", s.dir).Msg("filestore watcher error")
		}
	}
}

func (s *Store) handleWrite(key, path string) {
	writer, value, ok, err := s.read(path)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("filestore: unreadable change")
		return
	}
	if !ok || writer == s.writerID {
		return
	}
	s.events.Enqueue(storage.Change{Key: key, Value: value})
}

func (s *Store) handleRemove(key string) {
	s.mu.Lock()
	if s.pendingRemovals[key] > 0 {
		s.pendingRemovals[key]--
		if s.pendingRemovals[key] == 0 {
			delete(s.pendingRemovals, key)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// A rename event can also mean the file was replaced; only report a
	// removal when the key is really gone.
	if _, err := os.Stat(s.path(key)); err == nil {
		return
	}
	s.events.Enqueue(storage.Change{Key: key, Removed: true})
}

func (s *Store) read(path string) (writer, value string, ok bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("[filestore read] %w", err)
	}
	writer, value, found := strings.Cut(string(data), "\n")
	if !found {
		return "", "", false, fmt.Errorf("[filestore read] malformed entry %s", filepath.Base(path))
	}
	return writer, value, true, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, keyFilePrefix+base64.RawURLEncoding.EncodeToString([]byte(key)))
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, keyFilePrefix) {
		return "", false
	}
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(name, keyFilePrefix))
	if err != nil {
		return "", false
	}
	return string(key), true
}
