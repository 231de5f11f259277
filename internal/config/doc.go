// Package config loads runtime configuration for gatewaykit.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or TOML file selected with -c or -config; the format
//     follows the file extension.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-r string   relay gRPC target
//	-s string   storage backend: memory, sqlite, bolt, postgres or s3
//	-p string   storage path (sqlite, bolt)
//	-l string   log level
//
// # File schema
//
// Durations use timex.Duration, so they can be strings like "3s" or integer
// nanoseconds:
//
//	[relay]
//	target = "127.0.0.1:50051"
//	settle_delay = "1s"
//
//	[storage]
//	backend = "bolt"
//	path = "/var/lib/gatewaykit/state.bolt"
//
//	[log]
//	level = "debug"
//	format = "json"
package config
