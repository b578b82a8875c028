package redisqueue

import "github.com/redis/go-redis/v9"

// claimScript moves up to ARGV[2] jobs due at ARGV[1] from the due set into the
// in-flight set with lease deadline ARGV[3] and returns key/payload pairs.
// KEYS: due, inflight, payloads.
var claimScript = redis.NewScript(`
local keys = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, k in ipairs(keys) do
	redis.call('ZREM', KEYS[1], k)
	local p = redis.call('HGET', KEYS[3], k)
	if p then
		redis.call('ZADD', KEYS[2], ARGV[3], k)
		table.insert(out, k)
		table.insert(out, p)
	end
end
return out
`)

// ackScript releases a handled job. The payload is kept when the job was
// rescheduled while it ran.
// KEYS: due, inflight, payloads. ARGV: job key.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('HDEL', KEYS[3], ARGV[1])
end
return 1
`)

// reclaimScript returns jobs whose lease expired at ARGV[1] to the due set.
// KEYS: due, inflight, payloads.
var reclaimScript = redis.NewScript(`
local keys = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
local n = 0
for _, k in ipairs(keys) do
	redis.call('ZREM', KEYS[2], k)
	if redis.call('HEXISTS', KEYS[3], k) == 1 then
		redis.call('ZADD', KEYS[1], 'NX', ARGV[1], k)
		n = n + 1
	end
end
return n
`)
