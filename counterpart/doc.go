// Package counterpart keeps objects in two execution contexts paired.
//
// Each context runs an Endpoint over a transport.Channel. An object created
// on one side with Create gets a Handle; the peer builds its counterpart
// from a registered Factory when the create message arrives. Calls are
// addressed by handle and delivered in send order. Release disposes the
// peer's counterpart, so the two registries never disagree for long and no
// counterpart is orphaned.
//
// Handles are allocated per side (positive on the frontend, negative on the
// backend), so both sides may create objects without coordination.
//
// # Execution
//
// An Endpoint owns a mailbox fed by a reader goroutine (messages) and by
// Post (local closures). Everything taken from the mailbox runs on the
// owning context, one item at a time:
//
//   - Serve blocks and processes items until the context ends (processing
//     context).
//   - Poll processes whatever is queued and returns immediately (interactive
//     context, once per frame), so drawing never waits for the peer.
package counterpart
