// Package reqlog implements the Request Log Manager (RLM): a durable,
// ordered, crc-protected log of every write request accepted at a node,
// split into a fixed-size-record head file (head.req.log) and payload
// bucket files (<inc_id/100000>.req.log).
//
// Every mutating request is staged through prepare -> append ->
// discard-prepared: prepare assigns (on the primary) or validates (on a
// replica) the request's monotonic inc_id and holds it in a single-slot
// "prepared" buffer; append durably writes it; discard_prepared clears
// the slot once the caller has committed or aborted. All operations
// serialize on one manager-wide lock, matching the original
// ReqLogMgr's single boost::mutex.
package reqlog
