// Package bitkey provides Key, a compact growable bit vector used as a
// column and measure fingerprint.
//
// A Key is backed by one of three size classes picked from the requested
// capacity:
//
//   - Small: capacity below 64, one machine word
//   - Mid:   capacity below 128, two machine words
//   - Big:   a slice of (capacity>>6)+1 words
//
// The class only affects storage. Equality, hashing and ordering are
// computed on the normalized word view, so a Small key and a Big key with
// the same set bits are equal, hash identically and compare as 0.
//
// Setting a bit beyond the current capacity promotes the key to a larger
// class. Keys never shrink.
//
// Keys are not safe for concurrent mutation. Copy a key before publishing
// it into a shared structure if the caller may keep mutating it.
package bitkey
