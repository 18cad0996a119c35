// Package ledger implements an event-sourced persistence core. It loads and
// saves entities as ordered, versioned streams of immutable events against an
// append-only log, and it runs checkpointed subscriptions that replay history
// before continuing as a live tail.
//
// Typical usage looks like:
//   - Build an EventMapper from the event types your domain raises
//   - Define Appliers that fold events into your entity state
//   - Create a Repository over a Backend (memory, redis, bolt or postgres)
//   - Load an Entity, Raise events on it, and Save it with an
//     ExpectedVersion
//   - Run a Subscription with a Consumer to build read models or trigger
//     side effects from the global log
//
// Delivery is at-least-once. A Consumer must tolerate seeing the events that
// follow its last saved checkpoint more than once across restarts.
//
// The examples/ directory contains a runnable shopping cart walkthrough that
// exercises the API against the in-memory backend.
package ledger
