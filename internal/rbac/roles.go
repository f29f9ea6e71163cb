// Package rbac derives the caller's role set from session claims.
//
// Providers deliver role information in two shapes: a singular "role" claim
// (string) or a plural "roles" claim (array of strings). That tagged union
// is normalized here, once, into a canonical []string; nothing else in the
// console branches on claim shape.
package rbac

import (
	"encoding/json"

	"github.com/castellan/console/internal/auth"
)

// Roles returns the role identifiers for s. It always returns a non-nil
// slice: an absent session, absent claims, or an undecodable claim value all
// yield an empty role set, never an error.
func Roles(s *auth.Session) []string {
	if s == nil {
		return []string{}
	}
	if got := normalize(s.Claims.Role); len(got) > 0 {
		return got
	}
	return normalize(s.Claims.Roles)
}

// normalize decodes a raw role claim that may be a JSON string or a JSON
// array of strings.
func normalize(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return []string{}
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		out := make([]string, 0, len(many))
		for _, r := range many {
			if r != "" {
				out = append(out, r)
			}
		}
		return out
	}
	return []string{}
}

// HasAny reports whether have and allowed intersect.
func HasAny(have []string, allowed []string) bool {
	for _, h := range have {
		for _, a := range allowed {
			if h == a {
				return true
			}
		}
	}
	return false
}
