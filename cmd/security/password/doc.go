// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes use a PHC-style encoded string so parameters travel with the
// hash and can be tightened later without invalidating stored rows.
// Verify treats the encoded hash as untrusted input and refuses
// parameter sets far above the configured cost.
package password
