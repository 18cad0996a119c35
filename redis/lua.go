package redis

const (
	luaAppendEvents = `
		-- Atomically append events to a stream and the global log
		-- KEYS[1] = stream list key (global positions)
		-- KEYS[2] = log list key ("version:record")
		-- ARGV[1] = expectation: "any", "none" or "exact"
		-- ARGV[2] = expected version when exact
		-- ARGV[3..N] = encoded records
		-- Returns: {1, firstVersion, firstPosition} on success, or
		--          {0, streamLength}

		local streamLen = redis.call('LLEN', KEYS[1])
		local mode = ARGV[1]

		if mode == 'none' and streamLen ~= 0 then
			return {0, streamLen}
		end
		if mode == 'exact' then
			local expected = tonumber(ARGV[2])
			if streamLen == 0 or expected ~= streamLen - 1 then
				return {0, streamLen}
			end
		end

		local firstPos = redis.call('LLEN', KEYS[2]) + 1
		for i = 3, #ARGV do
			local version = streamLen + i - 3
			local pos = redis.call(
				'RPUSH', KEYS[2], string.format('%d:', version) .. ARGV[i]
			)
			redis.call('RPUSH', KEYS[1], string.format('%d', pos))
		end

		return {1, streamLen, firstPos}
		`

	luaReadStream = `
		-- Read a contiguous version range of a stream from the global log
		-- KEYS[1] = stream list key
		-- KEYS[2] = log list key
		-- ARGV[1] = first version
		-- ARGV[2] = last version
		-- Returns: {position1, entry1, position2, entry2, ...}

		local positions = redis.call('LRANGE', KEYS[1], ARGV[1], ARGV[2])
		local res = {}
		for _, pos in ipairs(positions) do
			table.insert(res, pos)
			table.insert(res, redis.call('LINDEX', KEYS[2], tonumber(pos) - 1))
		end
		return res
		`
)
