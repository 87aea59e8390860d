/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ledgerstore

import "github.com/redis/go-redis/v9"

// Status codes returned by the scripts.
const (
	statusOK            = 1
	statusDuplicate     = 0
	statusQueueMissing  = -1
	statusQueueInactive = -2
	statusEntryExists   = -3
	statusEntryMissing  = -4
)

// KEYS: meta
// ARGV: name, display name, payout target, created at, channel
var createQueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'name', ARGV[1], 'display_name', ARGV[2], 'payout_target', ARGV[3], 'created_at', ARGV[4], 'active', '1', 'total_score', '0')
redis.call('PUBLISH', ARGV[5], ARGV[1])
return 1
`)

// KEYS: meta, entries, scores
// ARGV: entry id, entry json, initial score, channel, name
var addEntryScript = redis.NewScript(`
local active = redis.call('HGET', KEYS[1], 'active')
if not active then
	return -1
end
if active ~= '1' then
	return -2
end
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then
	return -3
end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
redis.call('HINCRBY', KEYS[1], 'total_score', ARGV[3])
redis.call('PUBLISH', ARGV[4], ARGV[5])
return 1
`)

// KEYS: meta, entries, scores, credited
// ARGV: entry id, delta, reference, channel, name
// Returns {status, score}.
var incrementScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
	return {-4, 0}
end
if ARGV[3] ~= '' and redis.call('SADD', KEYS[4], ARGV[3]) == 0 then
	return {0, tonumber(redis.call('HGET', KEYS[3], ARGV[1]) or '0')}
end
local score = redis.call('HINCRBY', KEYS[3], ARGV[1], ARGV[2])
redis.call('HINCRBY', KEYS[1], 'total_score', ARGV[2])
redis.call('PUBLISH', ARGV[4], ARGV[5])
return {1, score}
`)

// KEYS: meta, entries, scores, archive, archive scores, archive served at
// ARGV: entry id, served at, channel, name
// Returns {entry json, score} or nil when the entry is gone.
var serveScript = redis.NewScript(`
local entry = redis.call('HGET', KEYS[2], ARGV[1])
if not entry then
	return false
end
local score = redis.call('HGET', KEYS[3], ARGV[1]) or '0'
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HINCRBY', KEYS[1], 'total_score', -tonumber(score))
redis.call('HSET', KEYS[4], ARGV[1], entry)
redis.call('HSET', KEYS[5], ARGV[1], score)
redis.call('HSET', KEYS[6], ARGV[1], ARGV[2])
redis.call('PUBLISH', ARGV[3], ARGV[4])
return {entry, score}
`)

// KEYS: meta
// ARGV: active flag, channel, name
var setActiveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'active', ARGV[1])
redis.call('PUBLISH', ARGV[2], ARGV[3])
return 1
`)

// KEYS: archive, archive scores, archive served at
// ARGV: channel, name, entry ids...
var pruneArchiveScript = redis.NewScript(`
local removed = 0
for i = 3, #ARGV do
	removed = removed + redis.call('HDEL', KEYS[1], ARGV[i])
	redis.call('HDEL', KEYS[2], ARGV[i])
	redis.call('HDEL', KEYS[3], ARGV[i])
end
if removed > 0 then
	redis.call('PUBLISH', ARGV[1], ARGV[2])
end
return removed
`)
