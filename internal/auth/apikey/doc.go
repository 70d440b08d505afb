// Package apikey verifies opaque API keys against salted, prefix-indexed
// hash records.
//
// # Key format
//
// Keys look like
//
//	sak_3fa85f6_Zk9uYXBzZWNyZXQ...
//
// The first PrefixLength characters ("sak_" + 7 hex digits + "_") form
// the non-secret lookup prefix. The hex digits are a checksum of the
// secret part so that garbage input is rejected before the store is
// consulted. Prefixes are not unique: a store may hold several records
// for one prefix and the verifier disambiguates by hash.
//
// # Hashing
//
// Records store a random salt (at least MinSaltLength bytes) and the
// digest of salt || key under a slow algorithm (argon2id by default,
// scrypt also supported). Digests are compared in constant time.
//
// # Verification
//
//	verifier, err := apikey.NewVerifier(store,
//	    apikey.WithVerifierLogger(logger),
//	    apikey.WithIdentityCache(cache),
//	)
//	info, err := verifier.Verify(ctx, presented)
//
// Every candidate sharing the prefix is hashed and compared, even after
// a match, so latency does not depend on which candidate matched. A
// cached identity skips the hash but not the revocation check.
//
// # Stores
//
// MemoryStore, RedisStore, VaultStore and SQLStore implement Store.
// GuardedStore bounds every call with a timeout and a circuit breaker
// and reports failures as ErrStoreUnavailable.
package apikey
