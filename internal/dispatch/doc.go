// Package dispatch turns one decoded message into zero or more replies.
//
// Ownership boundary:
// - Definition variants and the immutable Registry
// - generic get/set against the parameter store
// - the fixed special-handler table (handshake, node, batch, subscriptions)
// - subscription bookkeeping and periodic frame generation
package dispatch
