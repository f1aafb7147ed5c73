// Package scheduler is the orchestrator loop.
//
// Each cycle gates on active hours, partitions tasks into disabled, due and
// not-due buckets from a single configuration snapshot, runs the due tasks
// concurrently under a timeout, merges their outcomes with cached fallbacks,
// persists run state and finally hands the merged payloads to delivery.
package scheduler
