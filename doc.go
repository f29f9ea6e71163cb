// Package console is the Castellan admin console: the web shell that fronts
// the Castellan IAM platform for administrators. It signs users in with the
// platform's OIDC provider, keeps their sessions, guards routes by role, and
// forwards API calls with the signed-in user's token.
//
// See README.md
package console
