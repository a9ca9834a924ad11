//go:build !unix

package main

// raiseFileLimit is a no-op on non-Unix platforms, which have no rlimit
// concept to raise.
func raiseFileLimit() {}
