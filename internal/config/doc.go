// Package config handles configuration loading for the chat client and the
// dev harness.
//
// # Configuration File
//
// YAML, loaded from an explicit path; Default() supplies the local dev
// values when no file is given.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}; unset
// variables expand to an empty string:
//
//	auth:
//	  token: "${ALFA_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	transport:
//	  reconnect_base: "1s"
//	  reconnect_max: "15s"
//
// # Sections
//
//	server:
//	  host: "app.alfa-future.ru"   # backend authority
//	  secure: true                 # wss/https over ws/http
//	  listen_addr: ":8787"         # dev harness bind address
//
//	transport:
//	  reconnect_base: "1s"
//	  reconnect_max: "15s"
//	  queue_limit: 512
//
//	auth:
//	  token: "${ALFA_TOKEN}"       # client bearer token
//	  jwt_secret: "${ALFA_JWT_SECRET}"  # harness verification secret
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
