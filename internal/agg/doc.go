// Package agg turns cell requests into the smallest set of segment loads.
//
// Requests for the same measure are grouped and merged into covering
// batches. The manager keeps an index of READY and PENDING segments so that
// a segment is loaded at most once at a time: callers that ask for a
// segment already being loaded wait on the same load, and callers whose
// request is subsumed by a READY segment are answered by slicing it.
//
// Loaded bodies live in a cache.Composite. The index only tracks headers;
// when a backend evicts an entry the index forgets it.
package agg
