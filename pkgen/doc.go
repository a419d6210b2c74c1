// Package pkgen provides primary key generation strategies.
//
// A table is configured with exactly one Generator:
//
//   - None: the caller supplies every key
//   - Autoincrement: an atomic counter, strictly increasing under concurrency
//   - Custom: caller logic, for example UUIDv7
package pkgen
