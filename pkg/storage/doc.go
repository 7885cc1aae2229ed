/*
Package storage persists coordinator state in an embedded bbolt
database.

The Store interface covers nodes, tasks, aggregated results and
monotonic counters. The bbolt implementation keeps one bucket per
record kind with JSON-encoded values, so the database is inspectable
with standard bolt tooling. All writes are transactional; a crash
mid-write never leaves a torn record.

# Buckets

	nodes     node ID ──► types.Node
	tasks     task ID ──► types.Task
	results   task ID ──► types.AggregatedResult
	counters  name ─────► uint64 (big endian)

# Usage

	store, err := storage.NewBoltStore("/var/lib/conclave")
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveTask(task); err != nil {
		return err
	}

Lookups for absent keys return types.ErrNotFound wrapped with the
requested ID.
*/
package storage
