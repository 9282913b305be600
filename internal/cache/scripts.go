package cache

import "github.com/redis/go-redis/v9"

// The feed window is a sorted set scored by created_at (unix µs), newest
// entry at the highest score. Scripts run atomically per key, which makes
// every window key a serialization point for hydration and pushes.

// pushScript prepends into an existing window and trims it to ARGV[3]
// entries. Returns 0 without writing when the window does not exist.
//
//	KEYS[1] window key
//	ARGV[1] score, ARGV[2] snapshot, ARGV[3] max length
var pushScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(tonumber(ARGV[3]) + 1))
return 1
`)

// hydrateScript creates a window from store rows unless one already exists.
// Returns 1 when it created the window.
//
//	KEYS[1] window key
//	ARGV[1] ttl in milliseconds (0 = no expiry), ARGV[2..] score/snapshot pairs
var hydrateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// incrScript applies a delta only to a hydrated counter; nil means absent.
//
//	KEYS[1] counter key
//	ARGV[1] delta
var incrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)
