/*
Package log provides structured logging for rrockerd using zerolog.

A single global Logger is configured once via Init and exposed as
package-level helpers plus component-scoped child loggers
(WithComponent, WithTaskID, WithPrincipal) so request handlers and the
isolation engine can attach context without threading a logger through
every call.

Init chooses between JSON output (production) and a human-readable
console writer (development):

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	taskLog := log.WithTaskID(handle.String())
	taskLog.Info().Msg("task started")
*/
package log
