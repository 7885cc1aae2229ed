/*
Package log provides structured logging for the coordinator using
zerolog.

A single global logger is initialized once via log.Init, then
components derive child loggers tagged with their component name.
Production deployments log JSON to stdout; development uses zerolog's
console writer.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("scheduler")
	logger.Info().Str("task_id", id).Msg("task assigned")

Helper constructors WithNodeID and WithTaskID pre-tag loggers for
per-entity log trails.
*/
package log
