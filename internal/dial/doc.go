// Package dial is the public facade of the Dialdeck engine.
//
// A Controller ties the pieces together: the serial transport, the
// discovery/provisioning registry, the persisted metadata store and the
// display pipeline. Collaborators (GUI, CLI, sensor adapters) talk to the
// Controller only, always addressing dials by UID, and observe the system
// through its event stream.
//
// # Concurrency
//
// All Controller methods are safe for concurrent use. There is one
// physical serial line, so every operation ultimately serializes on the
// transport; callers queue rather than race. Image transfers run on a
// background drain loop that takes the transport one chunk at a time and
// sleeps between chunks, so a multi-second transfer never starves a
// pending value or backlight write.
//
// # Failure semantics
//
// Expected operational failures (hub not connected, unknown UID, bus
// timeout, dial offline) come back as typed *protocol.HubError values.
// Programmer errors such as an out-of-range value fail before any wire
// traffic. Mutating commands are never retried automatically - a retry
// could move a needle twice - with one exception: a failed queued image
// transfer is retried on the next drain cycle, up to a bounded attempt
// count, because re-sending pixels is harmless.
//
// Cached device state changes only after a status-OK round trip, so a
// snapshot taken after a failed write still shows the last known good
// state.
package dial
