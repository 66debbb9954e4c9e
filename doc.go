// Package kloros hosts a differentiated-channel signal bus: one wire
// format, one relay, three delivery contracts.
//
// # Channels
//
// Every envelope travels on exactly one channel, and the channel is the
// delivery contract:
//
//   - REFLEX: addressed, acknowledged delivery for safety-critical
//     interrupts. The publisher blocks until Ack, Nack, or Timeout,
//     retries timeouts with exponential backoff, and dead-letters
//     envelopes that exhaust the retry ceiling.
//   - AFFECT: fan-out broadcast for ambient state. Every subscriber
//     gets its own bounded queue; a slow consumer sheds its own oldest
//     envelopes and never slows the publisher or its peers.
//   - TROPHIC: batched work queue for bulk flows. Envelopes accumulate
//     in a shared durable queue; workers drain size- or time-closed
//     batches and compete for envelopes, so adding workers scales
//     throughput.
//   - LEGACY: broadcast semantics on the legacy subject prefix, so
//     unmigrated producers and consumers keep their prior behavior
//     during a phased rollout.
//
// # Layout
//
// The bus package is the facade: it owns the relay lifecycle and
// dispatches Publish through a channel-to-transport strategy map. The
// reflex, affect, and trophic packages implement the per-channel
// transports over the relay in package relay. Package envelope defines
// the wire format, dedup the incident replay guard, deadletter the
// operator-facing store for exhausted REFLEX envelopes, and health the
// operator health report. cmd/signalbus is the daemon.
package kloros
