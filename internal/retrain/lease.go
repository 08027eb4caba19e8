package retrain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another retrain holds the lease
var ErrLeaseHeld = errors.New("retrain lease is held by another run")

// Lease guards RetrainState against concurrent retrain runs
type Lease interface {
	// Acquire takes the lease or fails with ErrLeaseHeld. The returned
	// function releases it.
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// RedisLease is a SET NX lease with a compare-and-delete release
type RedisLease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisLease creates a lease stored under key
func NewRedisLease(client redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, ttl: ttl}
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (l *RedisLease) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to acquire retrain lease", err)
	}
	if !ok {
		return nil, apperrors.NewConflictError("retrain already in progress", ErrLeaseHeld)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return apperrors.NewNetworkError("failed to release retrain lease", err)
		}
		return nil
	}, nil
}

// FileLease is an exclusive lock file. A lock older than its TTL is treated
// as abandoned and taken over.
type FileLease struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewFileLease creates a lease backed by path
func NewFileLease(path string, ttl time.Duration) *FileLease {
	return &FileLease{path: path, ttl: ttl, now: time.Now}
}

type lockFile struct {
	Token     string    `json:"token"`
	PID       int       `json:"pid"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (l *FileLease) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, apperrors.NewPersistenceError("retrain lease", err)
	}

	lock := lockFile{Token: uuid.New().String(), PID: os.Getpid(), ExpiresAt: l.now().Add(l.ttl)}
	data, err := json.Marshal(lock)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode lease", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(l.path)
				return nil, apperrors.NewPersistenceError("retrain lease", errors.Join(werr, cerr))
			}
			return l.releaser(lock.Token), nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, apperrors.NewPersistenceError("retrain lease", err)
		}
		if attempt == 0 && l.expired() {
			os.Remove(l.path)
			continue
		}
		break
	}
	return nil, apperrors.NewConflictError("retrain already in progress", ErrLeaseHeld)
}

func (l *FileLease) expired() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	var held lockFile
	if err := json.Unmarshal(data, &held); err != nil {
		// unreadable locks only expire by age
		info, statErr := os.Stat(l.path)
		return statErr == nil && l.now().Sub(info.ModTime()) > l.ttl
	}
	return l.now().After(held.ExpiresAt)
}

func (l *FileLease) releaser(token string) func(context.Context) error {
	return func(context.Context) error {
		data, err := os.ReadFile(l.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return apperrors.NewPersistenceError("retrain lease", err)
		}
		var held lockFile
		if err := json.Unmarshal(data, &held); err != nil || held.Token != token {
			return fmt.Errorf("retrain lease at %s was taken over", l.path)
		}
		if err := os.Remove(l.path); err != nil {
			return apperrors.NewPersistenceError("retrain lease", err)
		}
		return nil
	}
}
