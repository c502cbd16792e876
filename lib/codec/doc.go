// Package codec provides the record serializers used for exchange payloads
// between ranks. Bytes produced by one rank's codec are consumed by the
// identical codec on the peer; there is no cross-version wire-format
// guarantee.
//
// Three implementations are provided:
//
//   - Binary: fixed-width records with a caller-supplied put/get pair.
//     Fastest, used for packed k-mer tuples.
//   - Gob: encoding/gob for arbitrary record types.
//   - JSON: encoding/json, mainly useful for debugging payloads.
package codec
