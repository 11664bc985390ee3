// Package workqueue implements a durable work queue with visibility-timeout
// redelivery on top of Pebble.
//
// Any number of consumers poll the same queue. Receive hands out the earliest
// visible message, hides it for the visibility timeout, increments its dequeue
// count and issues a fresh pop receipt. A consumer acknowledges by calling
// Delete with the copy it received; if the message was handed out again in the
// meantime the receipt no longer matches and Delete fails with
// ErrReceiptMismatch. A message that is never deleted reappears once its
// timeout elapses, which gives at-least-once delivery. The queue itself never
// gives up on a message; callers look at DequeueCount to evict poison.
//
// # Keyspace
//
// All keys are prefixed with wq/{name}/:
//
//	msg/{id}                  - Message record (header | payload | crc32c)
//	vis/{visible_at_ms}/{id}  - Visibility index, scanned in time order
//
// The record header carries inserted_at_ms, visible_at_ms, dequeue_count and
// the current pop receipt.
//
// # Comparison with lease-based queues
//
//	| Aspect         | Lease queue          | This queue              |
//	|----------------|----------------------|-------------------------|
//	| Ownership      | Consumer group/PEL   | Pop receipt             |
//	| Expiry         | Lease sweep          | Visibility index scan   |
//	| Retry          | Explicit Nack/DLQ    | Redelivery on timeout   |
package workqueue
