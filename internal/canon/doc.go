// Package canon produces canonical JSON and domain-separated hashes.
//
// Canonical JSON is the single serialization used wherever two encodings of
// the same value must compare equal byte for byte:
//   - index keys written by the document store
//   - subscription keys (query name + caller + arguments)
//   - result hashes used to suppress redundant pushes
//
// Rules (RFC 8785 subset):
//   - object keys sorted by UTF-16 code units
//   - strings NFC normalized, no HTML escaping
//   - integers only; floats are rejected, json.Number is passed through
//     when it is an integer
package canon
