// Package dispatch turns graph mutation events into worker invocations.
//
// For every event the Dispatcher resolves the element and property from the
// store, selects the workers whose allow/deny filter and IsHandled accept the
// change, and hands one work item to each worker's lane:
//   - streamed values are read once and fanned out to every interested lane,
//     optionally through one shared temp file when a worker needs a local path;
//   - in-memory values share one read-only WorkData across all lanes.
//
// It then collects exactly one Result per interested lane, flushes the store
// once and notifies the next stage. Worker failures are logged and counted;
// they never fail the event.
//
// Runner feeds the Dispatcher from the durable queue.
package dispatch
