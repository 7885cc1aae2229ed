/*
Package service composes the coordinator subsystems behind a single
façade.

The Service owns the registry, queue, scheduler, aggregator, fault
monitor, event broker and state store, and exposes the operations the
HTTP API and CLI consume. It is the only package that wires the
subsystems together; everything below it depends on narrower
interfaces.

# Architecture

	┌──────────────────────── SERVICE ─────────────────────────┐
	│                                                            │
	│   SubmitTask ─────────► queue ◄───────── scheduler loop   │
	│   RegisterNode ───────► registry ◄────── monitor loop     │
	│   RecordPartialResult ─► queue + registry counters        │
	│                            │                               │
	│                      quorum reached                        │
	│                            ▼                               │
	│                       finalize()                           │
	│                            │                               │
	│              ┌─────────────┴─────────────┐                │
	│              ▼                           ▼                │
	│         aggregator                 MinConfidence          │
	│         (strategy)                 gate                   │
	│              │                           │                │
	│              ▼                           ▼                │
	│         completed                     failed              │
	│                                                            │
	│   All transitions persist to bbolt and publish events.    │
	└──────────────────────────────────────────────────────────┘

# Finalization

Both the queue (on the last expected partial) and the monitor (when a
node failure completes the remaining report set) invoke finalize. It
aggregates with the task's strategy, applies the minimum-confidence
constraint, records the consensus level, and completes or fails the
task exactly once.

# Recovery

Start reloads persisted state and releases assignments that reference
nodes no longer in the roster, so tasks stranded by a crash are
rescheduled instead of waiting on ghosts.

# Usage

	svc, err := service.NewService(cfg, store, dispatcher)
	if err != nil {
		return err
	}
	svc.Start()
	defer svc.Stop()

	task, err := svc.SubmitTask(query, constraints)
*/
package service
