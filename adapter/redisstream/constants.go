package redisstream

// Stream entry fields
const (
	fieldPayload    = "payload"
	fieldProducedAt = "producedAt" // int64 ns
	fieldChannel    = "channel"    // sink channel, exported records only
	fieldMetaPrefix = "meta:"

	// dead-letter entries
	fieldOrigStream = "orig_stream"
	fieldOrigID     = "orig_id"
	fieldError      = "error"
)
