// Package identity implements the replicated identity state of a
// segmentation layer: the equivalence relation over segment ids and the
// visible-segment set.
//
// # Replication
//
// The interactive context owns the authoritative copy (Authority) and is
// the only writer. Every mutation is applied locally and then sent, in
// issue order, as an Op to the processing context, where a Mirror applies
// the ops strictly in arrival order. The mirror is therefore always some
// prefix of the authoritative history, and both copies agree once the
// channel drains. Reinitialization sends a full Snapshot instead of a delta.
//
// Reads (Get, HasVisible, IsVisibleExpanded) are answered from the local
// copy and never wait for the other context. Callers needing
// read-after-write must read from the Authority.
//
// # Expanded visibility
//
// Adding an id to the visible set makes its whole equivalence class
// visible for drawing without storing every member: the state keeps a
// count of visible members per representative.
package identity
