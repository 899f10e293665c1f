package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "opsbot:confirm:"

// redisRequestScript returns the live ticket for a key or issues a new one.
// KEYS[1] = index key (prefix .. "key:" .. ticket key)
// ARGV[1] = candidate ticket id
// ARGV[2..5] = conversation, user, operation, params json
// ARGV[6] = now (unix ms)
// ARGV[7] = expires at (unix ms)
// ARGV[8] = ttl (ms)
// ARGV[9] = ticket key prefix (prefix .. "ticket:")
// ARGV[10] = tenant
// Returns {ticket id, issued at, expires at}.
var redisRequestScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if existing then
    local t = redis.call("HMGET", ARGV[9] .. existing, "consumed", "expires_at", "issued_at")
    if t[1] == "0" and tonumber(t[2]) > tonumber(ARGV[6]) then
        return {existing, t[3], t[2]}
    end
end

local tkey = ARGV[9] .. ARGV[1]
redis.call("HSET", tkey,
    "tenant", ARGV[10],
    "conversation", ARGV[2],
    "user", ARGV[3],
    "operation", ARGV[4],
    "params", ARGV[5],
    "issued_at", ARGV[6],
    "expires_at", ARGV[7],
    "consumed", "0",
    "index", KEYS[1])
-- keep the record for one more TTL so late consumes see ErrExpired
redis.call("PEXPIRE", tkey, tonumber(ARGV[8]) * 2)
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[8])
return {ARGV[1], ARGV[6], ARGV[7]}
`)

// redisConsumeScript is the atomic check-and-set.
// KEYS[1] = ticket hash key
// ARGV[1] = now (unix ms)
// ARGV[2] = ticket id
// Returns {status, conversation, user, operation, params, issued at, expires at, tenant}.
var redisConsumeScript = redis.NewScript(`
local t = redis.call("HMGET", KEYS[1], "consumed", "expires_at", "conversation", "user", "operation", "params", "issued_at", "index", "tenant")
if not t[1] then
    return {"not_found"}
end
if tonumber(t[2]) <= tonumber(ARGV[1]) then
    return {"expired"}
end
if t[1] == "1" then
    return {"consumed"}
end

redis.call("HSET", KEYS[1], "consumed", "1")
if t[8] and redis.call("GET", t[8]) == ARGV[2] then
    redis.call("DEL", t[8])
end
return {"ok", t[3], t[4], t[5], t[6], t[7], t[2], t[9] or ""}
`)

// RedisStore keeps tickets in Redis so every bot replica shares them.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	clock  func() time.Time
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    ttl,
		clock:  time.Now,
	}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), ttl), nil
}

// WithClock overrides the clock for deterministic testing.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

// WithPrefix namespaces the keys, mainly so tests do not collide.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	s.prefix = prefix
	return s
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) RequestConfirmation(ctx context.Context, tenantID, conversationID, userID, operationName string, params map[string]string) (Ticket, error) {
	key, err := ticketKey(tenantID, conversationID, userID, operationName, params)
	if err != nil {
		return Ticket{}, err
	}
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return Ticket{}, fmt.Errorf("encode params: %w", err)
	}

	now := s.clock()
	expires := now.Add(s.ttl)
	res, err := redisRequestScript.Run(ctx, s.client,
		[]string{s.prefix + "key:" + key},
		uuid.New().String(),
		conversationID, userID, operationName, string(paramsJSON),
		now.UnixMilli(), expires.UnixMilli(), s.ttl.Milliseconds(),
		s.prefix+"ticket:", tenantID,
	).Result()
	if err != nil {
		return Ticket{}, fmt.Errorf("redis confirm request: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Ticket{}, fmt.Errorf("invalid response from lua script")
	}
	id, _ := vals[0].(string)
	issued, err1 := parseMillis(vals[1])
	exp, err2 := parseMillis(vals[2])
	if id == "" || err1 != nil || err2 != nil {
		return Ticket{}, fmt.Errorf("invalid response from lua script")
	}

	return Ticket{
		TicketID:         id,
		TenantID:         tenantID,
		ConversationID:   conversationID,
		UserID:           userID,
		OperationName:    operationName,
		TargetParameters: params,
		IssuedAt:         issued,
		ExpiresAt:        exp,
	}.clone(), nil
}

func (s *RedisStore) Consume(ctx context.Context, ticketID string) (Ticket, error) {
	res, err := redisConsumeScript.Run(ctx, s.client,
		[]string{s.prefix + "ticket:" + ticketID},
		s.clock().UnixMilli(), ticketID,
	).Result()
	if err != nil {
		return Ticket{}, fmt.Errorf("redis confirm consume: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) == 0 {
		return Ticket{}, fmt.Errorf("invalid response from lua script")
	}
	status, _ := vals[0].(string)
	switch status {
	case "not_found":
		return Ticket{}, ErrNotFound
	case "consumed":
		return Ticket{}, ErrAlreadyConsumed
	case "expired":
		return Ticket{}, ErrExpired
	case "ok":
	default:
		return Ticket{}, fmt.Errorf("unexpected consume status %q", status)
	}
	if len(vals) != 8 {
		return Ticket{}, fmt.Errorf("invalid response from lua script")
	}

	t := Ticket{TicketID: ticketID, Consumed: true}
	t.ConversationID, _ = vals[1].(string)
	t.UserID, _ = vals[2].(string)
	t.OperationName, _ = vals[3].(string)
	t.TenantID, _ = vals[7].(string)
	if raw, _ := vals[4].(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.TargetParameters); err != nil {
			return Ticket{}, fmt.Errorf("decode params: %w", err)
		}
	}
	if t.IssuedAt, err = parseMillis(vals[5]); err != nil {
		return Ticket{}, err
	}
	if t.ExpiresAt, err = parseMillis(vals[6]); err != nil {
		return Ticket{}, err
	}
	return t.clone(), nil
}

func parseMillis(v interface{}) (time.Time, error) {
	switch n := v.(type) {
	case int64:
		return time.UnixMilli(n), nil
	case string:
		ms, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", n, err)
		}
		return time.UnixMilli(ms), nil
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp %v", v)
	}
}
