// Package redisstream bridges xstream routers and Redis Streams.
//
// A Binder exports envelopes to a stream (XADD, headers flattened into
// "meta:<key>" fields) and binds a stream to a router channel through a
// consumer group (XREADGROUP, XACK after a successful publish chain).
//
// Config keys accepted by ConfigFromMap (see the Config field tags):
// - addr: "host:port" (default "127.0.0.1:6379")
// - group: consumer group name (default "xstream")
// - consumer: consumer name (default "xstream-<host>-<pid>")
// - start_id: group start position (default "$")
// - concurrency: publishing workers per binding (default 4)
// - batch_size: XREADGROUP COUNT (default 64)
// - block: XREADGROUP BLOCK duration (default 2s)
// - auto_create: create group/stream if missing (default true)
// - auto_delete_on_ack: XDEL after XACK (default false)
// - dead_letter: stream receiving entries whose chain failed (optional)
//
// Example:
//
//	cfg, _ := redisstream.ConfigFromMap(map[string]any{
//	    "addr":        "localhost:6379",
//	    "group":       "pipeline",
//	    "dead_letter": "pipeline-dlq",
//	})
//	binder, _ := redisstream.NewBinder(cfg)
//	binding, _ := binder.Bind(ctx, "inbound", "", router, "output")
//	defer binding.Close()
package redisstream
