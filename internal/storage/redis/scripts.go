package redis

const (
	// commitTransitionScript atomically applies counter increments for every
	// affected day, registers the device and replaces its open session.
	commitTransitionScript = `
local devices_set = KEYS[1]   -- {prefix}:devices
local session_key = KEYS[2]   -- {prefix}:session:{deviceID}
local open_set = KEYS[3]      -- {prefix}:sessions:open
-- KEYS[4..] are {prefix}:usage:{date}:{deviceID}, one per delta

local device_id = ARGV[1]
local open = ARGV[2]
local session_id = ARGV[3]
local app_name = ARGV[4]
local started_at = ARGV[5]

redis.call('SADD', devices_set, device_id)

-- Each delta is encoded as a field count followed by field/increment pairs
local pos = 6
for i = 4, #KEYS do
  local n = tonumber(ARGV[pos])
  pos = pos + 1
  for j = 1, n do
    redis.call('HINCRBY', KEYS[i], ARGV[pos], ARGV[pos + 1])
    pos = pos + 2
  end
end

if open == '1' then
  redis.call('HSET', session_key,
    'id', session_id,
    'device_id', device_id,
    'app_name', app_name,
    'started_at', started_at
  )
  redis.call('SADD', open_set, device_id)
else
  redis.call('DEL', session_key)
  redis.call('SREM', open_set, device_id)
end

return 'OK'
`

	// putBatteryScript overwrites the battery sample and registers the device
	putBatteryScript = `
local battery_key = KEYS[1]   -- {prefix}:battery:{deviceID}
local devices_set = KEYS[2]   -- {prefix}:devices

local device_id = ARGV[1]

redis.call('HSET', battery_key,
  'device_id', device_id,
  'level', ARGV[2],
  'charging', ARGV[3],
  'observed_at', ARGV[4]
)
redis.call('SADD', devices_set, device_id)

return 'OK'
`
)
