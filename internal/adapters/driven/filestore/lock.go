package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// Lock implements DistributedLock with exclusive-create lock files in
// <workdir>/locks. Each file records its owner and expiry; an expired file is
// taken over by the next Acquire.
type Lock struct {
	dir     string
	ownerID string
}

type lockFile struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewLock creates the lock directory under workdir if needed.
func NewLock(workdir string) (*Lock, error) {
	dir := filepath.Join(workdir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Lock{dir: dir, ownerID: generateOwnerID()}, nil
}

// generateOwnerID creates a unique identifier for this lock holder.
// Format: hostname:pid:random
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

// Acquire creates the lock file. Returns false if another owner holds an
// unexpired lock.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	path := l.path(name)
	data, err := json.Marshal(lockFile{Owner: l.ownerID, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return false, fmt.Errorf("acquire lock %s: %w", name, errors.Join(werr, cerr))
			}
			return true, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return false, fmt.Errorf("acquire lock %s: %w", name, err)
		}

		current, err := readLockFile(path)
		if err != nil {
			return false, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if current != nil && time.Now().Before(current.ExpiresAt) {
			return false, nil
		}
		// Expired or vanished; clear it and try once more
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("acquire lock %s: %w", name, err)
		}
	}
	return false, nil
}

// Release removes the lock file if this instance owns it.
func (l *Lock) Release(ctx context.Context, name string) error {
	path := l.path(name)
	current, err := readLockFile(path)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	if current == nil || current.Owner != l.ownerID {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend pushes the expiry of a lock held by this instance.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	path := l.path(name)
	current, err := readLockFile(path)
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if current == nil || current.Owner != l.ownerID {
		return fmt.Errorf("lock %s not held by this instance", name)
	}
	data, err := json.Marshal(lockFile{Owner: l.ownerID, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Ping checks the lock directory is writable.
func (l *Lock) Ping(ctx context.Context) error {
	f, err := os.CreateTemp(l.dir, ".ping-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}

// OwnerID returns the unique identifier for this lock instance.
func (l *Lock) OwnerID() string {
	return l.ownerID
}

func (l *Lock) path(name string) string {
	safe := strings.NewReplacer("/", "_", `\`, "_", ":", "_").Replace(name)
	return filepath.Join(l.dir, safe+".lock")
}

// readLockFile returns nil when the file does not exist.
func readLockFile(path string) (*lockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var lf lockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		// Unreadable lock files are treated as expired
		return &lockFile{}, nil
	}
	return &lf, nil
}
