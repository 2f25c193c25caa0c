// Package pairid derives the canonical identifier of a pair of principals.
package pairid

// Canonical returns the order-independent pair ID for principals a and b:
// the lexicographically smaller ID first, joined with an underscore.
func Canonical(a, b string) string {
	if a < b {
		return a + "_" + b
	}
	return b + "_" + a
}
