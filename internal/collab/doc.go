// Package collab implements the server side of collaborative editing: it
// rebases submitted changesets onto the head of a document, assigns them
// revisions, detects resubmissions and compacts old history into the tail.
//
// Everything here is synchronous and free of I/O. Callers load the head,
// tail and records of a document, call ProcessSubmittedRecord and commit the
// result atomically, re-running reconciliation when another submission wins
// the race for the same revision.
package collab
