package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "helpdesk:idem:"

	DefaultTTL = 24 * time.Hour

	// pending claims hold pendingPrefix followed by the claimer's token
	pendingPrefix = "pending:"
	// claims that are never completed or released expire after this
	pendingTTL = 10 * time.Minute
)

var (
	// ErrInFlight is returned by Claim while another request holds the key.
	ErrInFlight = errors.New("request with this idempotency key is in progress")
	// ErrClaimLost is returned when the caller's claim expired and the key
	// was taken over or dropped in the meantime.
	ErrClaimLost = errors.New("idempotency claim no longer held")
)

// completeScript replaces the claim with the reply only if it still holds
// our token.
var completeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// releaseScript drops the claim only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Reply is what gets replayed to a retried request.
type Reply struct {
	Output   string `json:"output"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Store caches completed replies in redis keyed by idempotency key.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

// Claim reserves key for the caller. When the caller now owns the key it
// returns a nil reply and the token to pass to Complete or Release. It
// returns the cached reply when the key already completed, or ErrInFlight.
func (s *Store) Claim(ctx context.Context, key string) (*Reply, string, error) {
	redisKey := keyPrefix + key
	token := uuid.New().String()

	claimed, err := s.client.SetNX(ctx, redisKey, pendingPrefix+token, pendingTTL).Result()
	if err != nil {
		return nil, "", fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if claimed {
		return nil, token, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired or released between SETNX and GET
		return s.Claim(ctx, key)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if strings.HasPrefix(raw, pendingPrefix) {
		return nil, "", ErrInFlight
	}

	var reply Reply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, "", fmt.Errorf("failed to decode cached reply: %w", err)
	}
	s.logger.Info("Replaying cached reply", zap.String("key", key))
	return &reply, "", nil
}

// Complete stores reply under key if the claim identified by token still
// holds it, and fails with ErrClaimLost otherwise.
func (s *Store) Complete(ctx context.Context, key, token string, reply Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	stored, err := completeScript.Run(ctx, s.client, []string{keyPrefix + key},
		pendingPrefix+token, data, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}
	if stored == 0 {
		return fmt.Errorf("key %s: %w", key, ErrClaimLost)
	}
	return nil
}

// Release drops the claim identified by token so the request can be
// retried. A claim that was already lost is left alone.
func (s *Store) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{keyPrefix + key}, pendingPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
