// Package config loads the docsync client YAML configuration.
//
// Load(path) applies defaults (2s reconnect base delay, 5 retries, 800ms edit
// and 100ms cursor debounce), unmarshals the file over them and validates the
// result. An empty server_url is allowed and means the client browses for a
// server over mDNS.
package config
