// Package consumer runs the queue consumption loops of a replica.
//
// Each Loop iteration:
//
//  1. Receives one message; sleeps PollInterval when the queue is empty.
//  2. Evicts the message without processing if the poison policy matches
//     (by default dequeue_count > 5), logging at error level.
//  3. Calls Gate.BeginScope; on cancellation the loop exits and the message
//     is left to reappear after its visibility timeout.
//  4. Decodes and dispatches the work item. Failures, panics included, are
//     logged and the message is left for redelivery; success deletes it.
//  5. Releases the scope on every path.
//
// A Pool runs a configured number of loops per queue and returns once they
// have all observed cancellation.
package consumer
