/*
Package metrics provides Prometheus instrumentation for the runtime.

It defines package-level gauge/counter/histogram vars for mailbox
subscriptions, per-agent queue depth, dispatcher ready-agent counts,
message-limit overflow reactions, synchronous-request outcomes, and
cooperation lifecycle, all registered at init via prometheus.MustRegister.
Handler() exposes the default promhttp handler for an embedder's own HTTP
server. This package is deliberately a leaf: it has no dependency on
pkg/env or any kernel package, so pkg/limit, pkg/mailbox and pkg/svc can
import it directly to increment their own counters. The ticker-driven
collector that polls coop/dispatcher gauges lives in pkg/env
(env.Collector) instead, the same shape as the teacher's own Collector.
*/
package metrics
