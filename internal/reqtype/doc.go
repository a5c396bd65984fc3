// Package reqtype enumerates the write-request types that flow through
// the request log and write-request pipeline, and the three statically
// known sets that gate routing:
//
//   - WriteReqSet: types that mutate state and must go through the
//     pipeline at all; anything else skips it entirely.
//   - ReplayWriteReqSet: the subset safe to replay from the log during
//     recovery because they are idempotent under replay.
//   - AutoShardWriteSet: the subset the master auto-distributes to
//     every relevant shard rather than routing by key-derived shard.
//
// Membership is a wire contract -- every node in a cluster must agree on
// it -- so it is data, not behavior: see the set definitions in types.go
// for the exact membership this module ships with, grounded on the original
// implementation's initWriteRequestSet.
package reqtype
