// Package cookie implements the credential store: the authoritative
// in-memory set of browser cookies the broker lends out to workers,
// grouped by internet domain.
//
// Grounded on original_source/remote_browser_server.py's ServerState
// (global_cookies / available_domains / is_logged_in / admin_key) and
// the merge/replace semantics of server_api_extensions.py's
// ServerManager. The on-disk layout follows
// ServerState.save_cookies_to_disk exactly.
package cookie

import (
	"strings"
)

// Cookie is one browser cookie. Identity for merge/delete purposes is
// the triple (Name, Domain, Path) — see Key.
type Cookie struct {
	Name     string   `json:"name" validate:"required"`
	Value    string   `json:"value" validate:"required"`
	Domain   string   `json:"domain" validate:"required"`
	Path     string   `json:"path"`
	Secure   bool     `json:"secure"`
	HTTPOnly bool     `json:"httpOnly"`
	SameSite string   `json:"sameSite,omitempty"`
	Expires  *float64 `json:"expires,omitempty"`
}

// Key is the cookie's identity key used for merge/dedup/delete:
// (name, domain, path). The raw (un-normalized) domain is part of the
// key — normalization only applies to the domain index, per spec.
type Key struct {
	Name   string
	Domain string
	Path   string
}

// IdentityKey returns c's identity key.
func (c Cookie) IdentityKey() Key {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return Key{Name: c.Name, Domain: c.Domain, Path: path}
}

// Valid reports whether c has the minimum required shape. Mutation
// operations reject any cookie that fails this check with
// ErrMalformedCookie before applying anything.
func (c Cookie) Valid() bool {
	return c.Name != "" && c.Domain != ""
}

// NormalizeDomain strips exactly one leading '.' and lowercases the
// remainder. It is used for domainIndex keys and for domain-based
// authorization checks — never for merge/delete identity, which keeps
// the raw domain string.
func NormalizeDomain(domain string) string {
	d := strings.TrimPrefix(domain, ".")
	return strings.ToLower(d)
}

// loginKeywords drives the login-state heuristic: a cookie name
// (lowercased) containing any of these suggests an authenticated
// session. Ported from check_login_status's auth_cookies list.
var loginKeywords = []string{"session", "token", "auth", "jwt", "sid", "uid", "login"}

// looksLikeAuthCookie reports whether name's lowercased form contains
// any login keyword.
func looksLikeAuthCookie(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range loginKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
