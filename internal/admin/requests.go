package admin

import "github.com/hibiki-broker/cookiebroker/internal/cookie"

// ImportRequest is the body of POST /admin/cookies and its
// POST /admin/cookies/import alias. ForceReplace selects adminReplace
// over adminMerge, per spec.md §4.E.
type ImportRequest struct {
	Cookies      []cookie.Cookie `json:"cookies" validate:"required,dive"`
	ForceReplace bool            `json:"force_replace"`
	LoggedIn     *bool           `json:"logged_in,omitempty"`
}

// DeleteKeysRequest is the body of POST /admin/cookies/delete.
type DeleteKeysRequest struct {
	Keys []CookieKeyInput `json:"keys" validate:"required,min=1,dive"`
}

// CookieKeyInput names one cookie identity for deletion.
type CookieKeyInput struct {
	Name   string `json:"name" validate:"required"`
	Domain string `json:"domain" validate:"required"`
	Path   string `json:"path"`
}

func (k CookieKeyInput) toKey() cookie.Key {
	path := k.Path
	if path == "" {
		path = "/"
	}
	return cookie.Key{Name: k.Name, Domain: k.Domain, Path: path}
}

// SmartImportRequest is the body of POST /admin/cookies/smart-import.
// CookiesByDomain and Strategy mirror smart_import_cookies's
// smart_data shape in original_source/server_api_extensions.py;
// Analysis is accepted and echoed back but otherwise unused by the
// core, same as the original.
type SmartImportRequest struct {
	CookiesByDomain map[string][]cookie.Cookie `json:"cookies_by_domain" validate:"required,min=1"`
	Strategy        ImportStrategy             `json:"strategy"`
	Analysis        map[string]interface{}     `json:"analysis,omitempty"`
}

// ImportStrategy is the opaque-to-the-core advisory record spec.md
// §4.E describes: the core only ever reads Sharing/Security/Name. All
// three are recorded in the audit ring on every smart import; they
// change max clients and the broadcast type only when the smart-import
// config flag is enabled.
type ImportStrategy struct {
	Name     string `json:"name"`
	Sharing  string `json:"sharing"`  // "high" | "none" | "" (treated as medium)
	Security string `json:"security"` // "highest" | "" (treated as medium)
}

// MaxClientsRequest is the body of POST /admin/server/config/max-clients.
type MaxClientsRequest struct {
	MaxClients int `json:"max_clients" validate:"required,gte=1,lte=10"`
}

// KickRequest is the body of POST /admin/clients/{id}/kick.
type KickRequest struct {
	Reason string `json:"reason"`
}

// PriorityRequest is the body of POST /admin/clients/{id}/priority.
type PriorityRequest struct {
	Priority int `json:"priority"`
}
