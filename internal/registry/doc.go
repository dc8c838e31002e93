// Package registry owns discovery, provisioning and the cached state of
// every dial on the hub's bus.
//
// Dials leave the factory all sharing one default I2C address. Before the
// bus is usable each dial must be moved to its own runtime address, which
// is derived from a volatile index (0-99) handed out during provisioning.
// Indices do not survive power cycles and must never be treated as durable
// handles; the factory UID is the only identity that persists. Callers
// address the registry by UID and the registry resolves the current index
// internally on every call.
//
// # Discovery sequence
//
//	Rescan    - read the online bitmap and REPLACE the working set with it.
//	            Replacement, not merge: indices no longer reported online
//	            are purged, otherwise a partial re-provision leaves ghost
//	            entries for dials that moved.
//	Provision - repeatedly offer a free index at the default address. Bus
//	            arbitration guarantees at most one waiting dial claims the
//	            offer per exchange, so the loop runs until an offer goes
//	            unanswered. Nothing finer than "one claim per exchange" is
//	            assumed of the arbitration.
//	Identify  - read each dial's UID and version strings, then attach the
//	            persisted metadata (name, easing, calibration) stored
//	            against that UID.
//	Configure - push the persisted easing back to the dial.
//
// There is deliberately no background re-verification of cached UID-index
// mappings here; a dial that power-cycled mid-session is noticed reactively
// through a failed command. The optional reconciler in package dial covers
// the proactive case without complicating this state machine.
package registry
