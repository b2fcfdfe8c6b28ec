// Package crawler holds the shared vocabulary of the frontier crawler: the
// frontier item model and its wire record, the frontier state snapshot, the
// sentinel errors, and the interfaces implemented by stores and collaborators.
package crawler
