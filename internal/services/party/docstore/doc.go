// Package docstore defines the shared document store used to coordinate a
// party session across devices.
//
// The store is a tree of JSON-like values addressed by slash-separated paths.
// The first two segments of a path name a root document ("sessions/ABCD",
// "users/u1"); every write is an optimistic compare-and-set on that root's
// version, which gives callers three primitives:
//   - Merge: shallow, last-write-wins field updates,
//   - Transaction: read-modify-write of a single path that commits only if
//     nothing else wrote the root in between,
//   - Subscribe: push notification of changes under a path.
//
// Backends (memory, sqlite, redis) only persist whole root documents with a
// version; Tree layers path semantics, retries and notifications on top.
package docstore
