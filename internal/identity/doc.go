// Package identity produces the pseudonymous device identifier and its digest.
//
// The raw identifier is a UUIDv4 persisted in a Store under a single key with
// no expiry. Only the digest (hex SHA-256) is meant to leave the process: it
// addresses the chat socket and every backend request.
package identity
