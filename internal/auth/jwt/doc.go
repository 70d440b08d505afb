// Package jwt verifies JSON Web Tokens against a published set of
// trusted keys and produces immutable claim contexts.
//
// # Trusted keys
//
// A KeySnapshot is an immutable kid-indexed set of public keys.
// TrustedKeys holds the current snapshot behind an atomic pointer; a
// verification loads it once and never sees a half-updated set. The
// Keyring merges named sources (static keys, a remote JWKS refreshed on
// a cron schedule, a watched local JWKS file) and republishes the union
// whenever one of them changes.
//
// # Verification
//
//	factory, err := jwt.NewFactory(cfg, keyring)
//	ctx, ok := factory.ContextFromRequest(r)
//
// Checks run in a fixed order and stop at the first failure: structure,
// algorithm and signature, expiry and issue time, issuer, audience and
// subject, not-before, then required claims and CEL rules. Verify
// returns the detailed error; the ContextFactory methods only report
// success.
//
// # Signing
//
// Signer issues tokens for development and tests:
//
//	signer, err := jwt.NewSigner(privateKey, jwt.AlgES256, "dev-1")
//	token, err := signer.Sign(ctx, &jwt.Claims{Subject: "alice"})
package jwt
