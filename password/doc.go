// Package password implements one-way secret hashing with Argon2id defaults
// and a bcrypt alternative.
//
// # Output format
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes use the standard $2a$/$2b$ modular crypt form. [Multi]
// hashes with the configured algorithm and verifies either form.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length,
// character classes) is enforced by the flows. The same hasher protects
// refresh-token digests at rest.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other package of this module.
//   - Log plaintext secrets or hash parameters at runtime.
package password
