// Package password hashes and verifies principal credentials using Argon2id
// with PHC-encoded hashes. Hashing is intentionally slow and salted; the
// verifier never learns the plaintext stored server-side.
package password
