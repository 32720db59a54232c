package discord

import (
	"strconv"
	"time"
)

// discordEpoch is the Discord snowflake epoch (2015-01-01T00:00:00Z) in
// Unix milliseconds.
const discordEpoch int64 = 1420070400000

// SnowflakeFromTime converts an instant into the smallest snowflake ID
// with that timestamp, usable as an "after" cursor for history paging.
// Instants before the Discord epoch clamp to zero.
func SnowflakeFromTime(t time.Time) string {
	ms := t.UnixMilli() - discordEpoch
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<22, 10)
}

// TimeFromSnowflake extracts the creation instant encoded in a snowflake
// ID. Malformed IDs yield the zero time and false.
func TimeFromSnowflake(id string) (time.Time, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	ms := (n >> 22) + discordEpoch
	return time.UnixMilli(ms).UTC(), true
}
