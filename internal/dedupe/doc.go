// Package dedupe keeps concurrent callers from duplicating work on the same
// key. Guard admits a single holder per key and expires abandoned holds.
package dedupe
