// Package auth provides identity resolution, password handling, bearer
// tokens and password recovery for devicehub.
//
// Three account kinds share one store: Client, Company and SuperUser.
// They are modelled as concrete types behind the Account interface so
// the resolver, verifier and token issuer work on a single shape.
//
//   - Resolver maps an email or client number to an account, searching
//     Client, then Company, then SuperUser
//   - PasswordVerifier applies the per-kind password policy (Argon2id,
//     with bcrypt accepted for imported hashes) and changes passwords
//   - TokenIssuer signs HS256 access and refresh tokens with separate keys
//   - RecoveryFlow issues and redeems single-use recovery tokens
//
// Tokens are stateless: logout is client-side and a token stays valid
// until it expires.
package auth
