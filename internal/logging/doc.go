// Package logging configures structured slog output for sah-index.
//
// With --debug the CLI writes JSON logs to ~/.sah-index/logs/index.log with
// size-based rotation. The MCP server always logs to the file only because
// stdout carries the JSON-RPC stream.
package logging
