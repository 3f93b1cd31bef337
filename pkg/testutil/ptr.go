// Package testutil provides helpers shared by the engine's tests.
package testutil

// Ptr returns a pointer to v, for optional schema fields such as
// minval, maxval and hasSpan.
func Ptr[T any](v T) *T { return &v }
