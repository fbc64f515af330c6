// Package config handles configuration loading for servequery-agent.
//
// # Configuration File
//
// The path comes from the SERVEQUERY_CONFIG environment variable, falling
// back to $XDG_CONFIG_HOME/servequery/agent.yaml (or ~/.config when
// XDG_CONFIG_HOME is unset). Files ending in .toml are read as TOML; any
// other extension is read as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  auth_secret: "${SERVEQUERY_AUTH_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:3310"
//	  shutdown_timeout: "5s"
//
//	database:
//	  path: "/var/lib/servequery/permissions.db"
//
//	auth:
//	  auth_secret: "${SERVEQUERY_AUTH_SECRET}"  # at least 32 bytes
//	  token_ttl: "1h"
//
//	permissions:
//	  cache_ttl: "30s"   # "0s" disables caching
//	  cache_size: 1000
//
//	datasources:
//	  - name: main
//	    type: sql
//	    dsn: "/var/lib/app/app.db"
//	  - name: events
//	    type: mongo
//	    uri: "mongodb://localhost:27017"
//	    database: app
//	    collections:
//	      - name: events
//	        fields: {kind: String, amount: Number, happened_at: Date}
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax. Load validates the result and
// returns the first problem found.
package config
