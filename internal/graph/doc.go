// Package graph defines the element, property and mutation event model seen by
// the ingest pipeline, together with the Store contract it resolves events
// against.
//
// The store owns read/write/transaction semantics and visibility labels; this
// package only describes the shape of what is fetched and written. Visibility and
// workspace strings are carried through untouched.
package graph
