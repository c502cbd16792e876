// Package buffer provides the outbound batching machinery of the
// communication layer: a fixed-capacity append-only byte buffer with atomic
// reservation, and a per-tag per-destination pool that rotates buffers
// between producers and the send queue.
//
// Key Components:
//
//   - Buffer: a fixed-capacity byte buffer. Concurrent appends reserve their
//     region with a single fetch-add and copy without further coordination.
//     A blocked buffer rejects all appends; blocking followed by Quiesce is
//     how ownership is transferred from the producers to the sender.
//
//   - MessageBuffers: the pool. Producers append into the current buffer of
//     a (tag, destination) slot; whoever hits a full buffer swaps in a fresh
//     one, blocks the old one and enqueues it as a SendDescriptor. Flushing
//     a tag force-rotates every slot of that tag and appends one
//     end-of-stream sentinel descriptor per destination.
//
// Buffers handed to the send queue are owned by the consumer of that queue.
// They remain blocked after the send completes and are reclaimed by the
// garbage collector; blocked-forever is what makes a stale producer pointer
// harmless.
package buffer
