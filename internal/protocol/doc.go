// Package protocol owns the console message contract.
//
// Ownership boundary:
// - Argument and Message value types
// - binary encode/decode (wire alignment lives in protocol/wire)
// - textual parse/render used by command-line tooling
package protocol
