// Package lock implements the schedule-scoped mutual exclusion used to
// serialize booking creation, reconciliation and expiry sweeps across
// service instances.  The lock is a short-lived named redis key per
// schedule id: bounded acquisition wait, bounded hold TTL so a crashed
// holder cannot deadlock the schedule, and token-checked release so a
// holder that lost its lock to the TTL cannot release someone else's.
package lock

import (
    "context"
    "crypto/rand"
    "encoding/hex"
    "fmt"
    "log"
    "time"

    "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still carries the
// holder's token.  Running the compare and the delete inside one Lua
// script keeps the release atomic.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// ScheduleLock acquires per-schedule redis locks.  Wait bounds how
// long Acquire polls for a busy lock; Hold is the auto-release TTL and
// must exceed the slowest transaction run under the lock.
type ScheduleLock struct {
    client *redis.Client
    wait   time.Duration
    hold   time.Duration
    prefix string
}

// NewScheduleLock returns a ScheduleLock bound to the given client.
func NewScheduleLock(client *redis.Client, wait, hold time.Duration) *ScheduleLock {
    return &ScheduleLock{client: client, wait: wait, hold: hold, prefix: "lock:schedule"}
}

// Acquire tries to take the lock for the schedule, polling until the
// bounded wait elapses.  On success it returns a release func and
// ok=true; when the lock stays busy for the whole wait it returns
// ok=false and no error.  Errors are reserved for redis failures.
// The release func is safe to call exactly once; releasing after the
// hold TTL already expired is a logged no-op.
func (l *ScheduleLock) Acquire(ctx context.Context, scheduleID uint64) (release func(), ok bool, err error) {
    key := fmt.Sprintf("%s:%d", l.prefix, scheduleID)
    token, err := randomToken(16)
    if err != nil {
        return nil, false, err
    }

    deadline := time.Now().Add(l.wait)
    for {
        acquired, err := l.client.SetNX(ctx, key, token, l.hold).Result()
        if err != nil {
            return nil, false, err
        }
        if acquired {
            return func() { l.release(key, token) }, true, nil
        }
        if time.Now().After(deadline) {
            return nil, false, nil
        }
        select {
        case <-ctx.Done():
            return nil, false, ctx.Err()
        case <-time.After(50 * time.Millisecond):
        }
    }
}

func (l *ScheduleLock) release(key, token string) {
    // Use a fresh context: the request context may already be
    // cancelled and the lock must still be released.
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
    if err != nil {
        log.Printf("lock: release %s failed: %v", key, err)
        return
    }
    if n == 0 {
        log.Printf("lock: %s expired before release; holder exceeded hold TTL", key)
    }
}

// randomToken returns n random bytes hex-encoded.  The token ties a
// release back to the acquisition that created the key.
func randomToken(n int) (string, error) {
    b := make([]byte, n)
    if _, err := rand.Read(b); err != nil {
        return "", err
    }
    return hex.EncodeToString(b), nil
}
