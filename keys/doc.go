// Package keys provides the cryptographic primitives consumed by the
// repomesh canonicalizer/signer and by the optional post-quantum
// co-signature path layered on top of it.
//
// API stability:
//
// Stable:
//   - SignHash / VerifyHash: the Ed25519 signing contract every event uses.
//   - KeyIDFromPublicKey / KeyIDFromSeed / DeriveRoleSeed: pure, deterministic.
//
// Experimental:
//   - Store and its filesystem layout are local-first developer tooling, not
//     part of the wire protocol, and may change in MINOR releases.
package keys
