// Package concurrent provides the thread-safe queue primitive that the
// communication layer uses to hand work between application threads, the
// comm worker, and the dispatch workers.
//
// Features and Guarantees:
//
//   - Bounded or unbounded: a capacity of 0 means the queue grows without limit,
//     any positive capacity is a hard bound that is never exceeded, not even
//     transiently.
//   - MPMC: any number of goroutines may push and pop concurrently.
//   - Cooperative shutdown: pushing can be disabled so that producers fail fast
//     while consumers drain the remaining items. CanPop reports whether another
//     item can still arrive.
//   - Blocking variants spin briefly with a scheduler yield before falling back
//     to a condition variable, so short waits stay off the futex path.
package concurrent
