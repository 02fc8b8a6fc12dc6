// Package config loads the docsync server configuration from the `server:`
// section of a YAML file.
//
// Config fields:
//   - HTTPPort  : WebSocket endpoint, REST API and /metrics (default 8080)
//   - GRPCPort  : gRPC health service (default 50051, 0 disables)
//   - WSPath    : WebSocket mount path (default "/ws")
//   - Log       : level and format; the level is re-applied on hot reload
//   - Limits    : inbound frame size, outbound queue length, content size
//   - Storage   : memory | bolt | postgres | mongo, secrets via dsn_env
//   - Relay     : optional Redis pub/sub fan-out between nodes
//   - Discovery : optional mDNS advertisement
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change.
package config
