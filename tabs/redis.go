package tabs

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL   = 10 * time.Second
	lockRetry = 10 * time.Millisecond
)

// ErrLocked is returned when another request holds the namespace lock for
// longer than the caller is willing to wait.
var ErrLocked = errors.New("tab state is locked")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStorage keeps keys under tabs:<namespace>: and refreshes their TTL on
// every write, so the data lives only as long as the browser session.
type RedisStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisStorage) key(k string) string {
	return "tabs:" + s.namespace + ":" + k
}

func (s *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStorage) Set(ctx context.Context, key string, value string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return s.client.Set(ctx, s.key(key), value, s.ttl).Err()
}

func (s *RedisStorage) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.client.Del(ctx, full...).Err()
}

// Lock serializes load-modify-save cycles on this namespace across requests.
// The returned func releases the lock; it only deletes the key while this
// holder still owns it.
func (s *RedisStorage) Lock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := s.key("lock")
	owner := uuid.NewString()
	for {
		ok, err := s.client.SetNX(ctx, key, owner, lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLocked
			}
			return nil, err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ErrLocked
		case <-time.After(lockRetry):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, s.client, []string{key}, owner).Err(); err != nil {
			log.Println("error releasing tab lock:", err)
		}
	}, nil
}
