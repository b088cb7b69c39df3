package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/kriegspiel-server/internal/game"
	"github.com/redis/go-redis/v9"
)

const updateRetries = 3

// Redis keeps each session as a JSON blob with a sliding TTL. A set indexes
// live ids for listing; SweepExpired prunes ids whose blobs have expired.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ game.Store = (*Redis)(nil)

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// DialRedis parses rawURL, connects and pings.
func DialRedis(ctx context.Context, rawURL string, ttl time.Duration) (*Redis, error) {
	opts, err := ParseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb, ttl), nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// Ping is used by health checks.
func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func keySession(id string) string { return "ks:session:" + strings.TrimSpace(id) }
func keyConn(conn string) string  { return "ks:conn:" + strings.TrimSpace(conn) }
func keyIndex() string            { return "ks:sessions" }

func (r *Redis) CreateSession(ctx context.Context, s *game.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, keySession(s.ID), raw, r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return game.ErrSessionExists
	}
	return r.rdb.SAdd(ctx, keyIndex(), s.ID).Err()
}

func (r *Redis) GetSession(ctx context.Context, id string) (*game.Session, error) {
	raw, err := r.rdb.Get(ctx, keySession(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s game.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// UpdateSession overwrites an existing session and refreshes its TTL along
// with the connection keys of everyone seated in it. The WATCH guards against
// the key expiring between the check and the write.
func (r *Redis) UpdateSession(ctx context.Context, s *game.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	key := keySession(s.ID)
	for i := 0; i < updateRetries; i++ {
		err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return game.ErrGameNotFound
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, raw, r.ttl)
				p.SAdd(ctx, keyIndex(), s.ID)
				if r.ttl > 0 {
					for _, conn := range s.Participants() {
						p.Expire(ctx, keyConn(conn), r.ttl)
					}
				}
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (r *Redis) DeleteSession(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keySession(id))
		p.SRem(ctx, keyIndex(), id)
		return nil
	})
	return err
}

func (r *Redis) SetConnectionSession(ctx context.Context, conn, id string) error {
	if strings.TrimSpace(conn) == "" {
		return nil
	}
	return r.rdb.Set(ctx, keyConn(conn), id, r.ttl).Err()
}

func (r *Redis) GetConnectionSession(ctx context.Context, conn string) (string, error) {
	id, err := r.rdb.Get(ctx, keyConn(conn)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

func (r *Redis) ClearConnectionSession(ctx context.Context, conn string) error {
	return r.rdb.Del(ctx, keyConn(conn)).Err()
}

// ListSessions returns live sessions, oldest first. Index entries whose blob
// has expired are skipped here and removed by SweepExpired.
func (r *Redis) ListSessions(ctx context.Context) ([]*game.Session, error) {
	ids, err := r.rdb.SMembers(ctx, keyIndex()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*game.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

// SweepExpired removes index entries for sessions Redis has already expired.
// Connection keys carry their own TTL and need no sweeping.
func (r *Redis) SweepExpired(ctx context.Context) (int, error) {
	ids, err := r.rdb.SMembers(ctx, keyIndex()).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		exists, err := r.rdb.Exists(ctx, keySession(id)).Result()
		if err != nil {
			return n, err
		}
		if exists > 0 {
			continue
		}
		if err := r.rdb.SRem(ctx, keyIndex(), id).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("redis url missing host")
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts, err = redis.ParseURL(u.String())
		if err != nil {
			return nil, err
		}
	}
	return opts, nil
}
