// Package library knows the on-disk shape of the media collection: canonical
// path keys, the sent-filename tag, the reconciling scanner and the change
// watcher. It reads the tree and repairs the store; renaming files is the
// dispatcher's job.
package library
