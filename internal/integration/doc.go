// Package integration holds end-to-end tests that run several workspaces
// against one root, the way separate processes would.
package integration
