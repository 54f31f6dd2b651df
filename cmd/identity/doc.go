// Package identity owns principal records and their stored credentials.
//
// The rest of the system treats a Principal as an opaque record addressable
// by ID; only this package and the security/password verifier ever see the
// credential hash. Two store implementations exist: Postgres for production
// and an in-memory store for dev mode and tests.
package identity
