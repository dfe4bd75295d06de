package queue

import "github.com/redis/go-redis/v9"

// Multi-step queue moves must be single atomic units on the store; a
// pipeline of pops is not atomic under concurrent workers and can
// double-deliver. Every move below is therefore one Lua script.

// takeBatchScript pops up to ARGV[1] items from the tail of the main queue
// and pushes each onto the processing list, recording an in-flight deadline
// entry scored with ARGV[2] (taken-at, epoch millis).
// KEYS: main, processing, deadlines.
var takeBatchScript = redis.NewScript(`
local taken = {}
local limit = tonumber(ARGV[1])
for i = 1, limit do
  local item = redis.call('RPOP', KEYS[1])
  if not item then
    break
  end
  redis.call('LPUSH', KEYS[2], item)
  redis.call('ZADD', KEYS[3], ARGV[2], item)
  taken[#taken + 1] = item
end
return taken
`)

// takeDueScript moves every retry entry with score <= ARGV[1] (now, epoch
// millis) into the processing list in one unit: read, remove, push.
// KEYS: retry, processing, deadlines.
var takeDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for i = 1, #due do
  redis.call('ZREM', KEYS[1], due[i])
  redis.call('LPUSH', KEYS[2], due[i])
  redis.call('ZADD', KEYS[3], ARGV[2], due[i])
end
return due
`)

// reclaimScript moves in-flight items whose deadline entry is older than
// ARGV[1] back into the retry queue with score ARGV[2] (now), retry count
// untouched. Covers workers that died mid-batch.
// KEYS: deadlines, processing, retry.
var reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for i = 1, #expired do
  redis.call('ZREM', KEYS[1], expired[i])
  redis.call('LREM', KEYS[2], 1, expired[i])
  redis.call('ZADD', KEYS[3], ARGV[2], expired[i])
end
return #expired
`)
