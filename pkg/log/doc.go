/*
Package log provides structured logging for the runtime using zerolog.

It wraps zerolog with a package-level Logger, a Config/Init pair, and a
handful of component-scoped child-logger helpers (WithAgent, WithCoop,
WithDispatcher, WithMbox) so every dispatcher worker, coop, and the
environment itself can log with consistent context fields without
threading a logger through every call.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	dispLog := log.WithDispatcher("one_thread:main")
	dispLog.Info().Msg("dispatcher started")
*/
package log
