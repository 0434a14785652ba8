// Package lane runs each registered worker on its own long-lived goroutine.
//
// A Lane owns an unbounded inbound queue and processes items strictly in
// arrival order, one at a time. Every item produces exactly one Result, which
// resolves the Ticket returned by Enqueue:
//   - worker errors and panics become failed Results
//   - the supplied stream is always closed; close errors are joined into the Result
//   - the loop never exits because of a worker failure
//
// Result waits are per-ticket futures. A caller that gives up waiting (see
// Ticket.WaitTimeout) does not cancel the running invocation; its late Result
// resolves only its own Ticket and can never be observed by a different caller.
//
// Stop is cooperative. The lane finishes the item it is executing, then fails
// every still-queued item with ErrLaneStopped.
package lane
