// Package storage persists orchestrator state between restarts:
// per-task last-run timestamps, last-known enabled flags and the last
// successful payload of every source task.
//
// Two drivers exist. "file" keeps one JSON document per concern in a
// directory and is compatible with the historical data layout. "sqlite"
// keeps everything in a single database file.
package storage
