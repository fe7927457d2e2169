// Package token generates the short numeric codes used for session tokens,
// registration confirmation, and password resets.
//
// Codes are fixed-digit random integers drawn from crypto/rand. The keyspace is
// deliberately small (codes get typed by humans out of an email); collision
// handling is the caller's job, typically a bounded retry on a unique insert.
package token
