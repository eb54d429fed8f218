// Package internal contains shared types and utilities for dockwire.
//
// It provides configuration parsing, container naming, cleanup orchestration,
// and I/O abstractions used by the docker package and the CLI.
package internal
