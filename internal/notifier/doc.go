// Package notifier is the delivery pipeline for rendered notifications.
//
// Notify renders a payload under the current preferences snapshot, drops it
// when disabled or seen within the dedup window, and queues it. A pool of
// supervised workers presents queued notifications through a
// transport.Presenter with a token-bucket rate limit and jittered retries.
//
// # History
//
// Every outcome (delivered, suppressed, deduped, failed) is recorded to the
// optional storage.Store and to a small in-memory ring used when no store is
// configured. Lifecycle events go to the event bus.
package notifier
