package allowlist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// DefaultRedisKey is the set holding allowed credentials.
const DefaultRedisKey = "homesync:allowlist"

// RedisStore implements Store on a Redis set, with labels in a companion
// hash. Every change is announced on the "<key>:changed" channel so that
// bridges can reload at once instead of waiting for the next refresh.
type RedisStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

var (
	_ Store   = (*RedisStore)(nil)
	_ Watcher = (*RedisStore)(nil)
)

// NewRedisStore creates a store from the redis section of config.yaml.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisStore{client: client, key: key, now: time.Now}
}

func (s *RedisStore) labelsKey() string  { return s.key + ":labels" }
func (s *RedisStore) addedKey() string   { return s.key + ":added" }
func (s *RedisStore) channelKey() string { return s.key + ":changed" }

// Members returns all allowed credentials.
func (s *RedisStore) Members(ctx context.Context) ([]Member, error) {
	var (
		creds  *redis.StringSliceCmd
		labels *redis.MapStringStringCmd
		added  *redis.MapStringStringCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		creds = p.SMembers(ctx, s.key)
		labels = p.HGetAll(ctx, s.labelsKey())
		added = p.HGetAll(ctx, s.addedKey())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading allow-list: %w", err)
	}

	labelMap := labels.Val()
	addedMap := added.Val()
	members := make([]Member, 0, len(creds.Val()))
	for _, c := range creds.Val() {
		m := Member{Credential: c, Label: labelMap[c]}
		m.CreatedAt, _ = time.Parse(time.RFC3339, addedMap[c]) //nolint:errcheck // Format is controlled
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Credential < members[j].Credential
	})
	return members, nil
}

// Add inserts a credential if it is not already listed.
func (s *RedisStore) Add(ctx context.Context, credential, label string) error {
	c, err := normalize(credential)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, s.key, c)
		p.HSetNX(ctx, s.labelsKey(), c, label)
		p.HSetNX(ctx, s.addedKey(), c, s.now().UTC().Format(time.RFC3339))
		p.Publish(ctx, s.channelKey(), c)
		return nil
	})
	if err != nil {
		return fmt.Errorf("adding credential: %w", err)
	}
	return nil
}

// Remove deletes a credential.
func (s *RedisStore) Remove(ctx context.Context, credential string) error {
	c, err := normalize(credential)
	if err != nil {
		return err
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.SRem(ctx, s.key, c)
		p.HDel(ctx, s.labelsKey(), c)
		p.HDel(ctx, s.addedKey(), c)
		p.Publish(ctx, s.channelKey(), c)
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing credential: %w", err)
	}
	if removed.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Watch subscribes to change notifications. Bursts are coalesced: the
// channel holds at most one pending notification.
func (s *RedisStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	sub := s.client.Subscribe(ctx, s.channelKey())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("subscribing to %s: %w", s.channelKey(), err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close() //nolint:errcheck // Nothing to do on close failure

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
