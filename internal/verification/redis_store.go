package verification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldCode     = "code"
	fieldAttempts = "attempts"
)

// incrementScript は既存のキーに限って試行回数を増やす。
// キーが無い場合にHINCRBYがTTLなしのハッシュを作るのを防ぐ。
var incrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
`)

// RedisStore はRedisのハッシュに確認コードを保存するCodeStore。
// キーは verify:{contactID}、フィールドは code と attempts。
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisClient はREDIS_URL形式の接続文字列からクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Save はコードと試行回数0を書き込み、TTLを設定する。
func (s *RedisStore) Save(ctx context.Context, contactID, code string, ttl time.Duration) error {
	key := storeKey(contactID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fieldCode, code, fieldAttempts, 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save verification code: %w", err)
	}
	return nil
}

// Load はエントリを読み込む。キーが無い場合はnilを返す。
func (s *RedisStore) Load(ctx context.Context, contactID string) (*Entry, error) {
	values, err := s.rdb.HGetAll(ctx, storeKey(contactID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load verification code: %w", err)
	}
	code, ok := values[fieldCode]
	if !ok {
		return nil, nil
	}
	attempts, err := strconv.Atoi(values[fieldAttempts])
	if err != nil {
		return nil, fmt.Errorf("invalid attempts counter for %s: %w", contactID, err)
	}
	return &Entry{Code: code, Attempts: attempts}, nil
}

// IncrementAttempts は試行回数を原子的に増やす。キーが期限切れなら0を返す。
func (s *RedisStore) IncrementAttempts(ctx context.Context, contactID string) (int, error) {
	n, err := incrementScript.Run(ctx, s.rdb, []string{storeKey(contactID)}, fieldAttempts).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to increment verification attempts: %w", err)
	}
	return int(n), nil
}

// Delete はエントリを削除する。
func (s *RedisStore) Delete(ctx context.Context, contactID string) error {
	if err := s.rdb.Del(ctx, storeKey(contactID)).Err(); err != nil {
		return fmt.Errorf("failed to delete verification code: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CodeStore = (*RedisStore)(nil)
