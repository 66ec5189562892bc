// Package inventory persists the media catalog.
//
// It holds one row per catalogued file (keyed by canonical library-relative
// path) plus a dispatch audit trail. The Unsent->Sent transition is a
// compare-and-set so concurrent dispatch attempts cannot double-mark.
package inventory
