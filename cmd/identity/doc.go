// Package identity holds user accounts and the two short-lived code
// tables that guard account changes: registration codes (a pending
// account waiting for its emailed code) and password reset codes.
//
// Codes are numeric, expire, and are purged lazily on the reads that
// consult them.
package identity
