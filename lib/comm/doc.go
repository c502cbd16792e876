// Package comm provides the message-passing substrate of the distributed
// k-mer index: the transport abstraction, the asynchronous communication
// layer with per-tag callback dispatch and a cooperative termination
// protocol, and the stable bucketing + all-to-all exchange helpers used by
// the collective map operations.
//
// Key Components:
//
//   - ITransport: the interface every point-to-point/collective transport
//     must satisfy. Implementations live in the local (in-process goroutine
//     mesh) and tcp (socket mesh) subpackages.
//
//   - CommLayer: the asynchronous broker. Application threads append
//     messages into per-(tag, destination) buffers; a single comm worker
//     drives the transport; dispatch workers invoke the callback registered
//     for each tag. A tag is closed by Flush (which emits one end-of-stream
//     marker per peer) and drained by Finish, which returns only once every
//     peer's end-of-stream arrived and every payload was dispatched.
//
//   - Bucket / Exchange: stable bucketing of a record vector by a rank
//     function, and the collective all-to-all exchange that uses the bucket
//     sizes as send counts.
//
// Error handling: operational failures (closed tag, duplicate registration,
// exhausted capacity) are returned as *Error values with a RetCode. A
// transport-level failure is terminal: the layer poisons itself, drains its
// queues and every subsequent call fails with RetCTransportFatal.
package comm
