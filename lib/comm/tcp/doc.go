// Package tcp provides a socket mesh transport: every rank listens on its
// configured endpoint and keeps one persistent outgoing connection to each
// peer. Frames are length-prefixed; collective exchanges are sequenced so
// that they can share the connections with asynchronous sends.
package tcp
