package cookie

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hibiki-broker/cookiebroker/internal/debug"
)

// ErrMalformedCookie is returned when a cookie in a mutation request
// is missing its required name/domain fields. The HTTP layer maps
// this to MalformedInput (400).
var ErrMalformedCookie = fmt.Errorf("cookie missing required name or domain")

// ChangeEvent describes a completed store mutation. Store never sends
// notifications itself — it hands each event to the handler registered
// via SetChangeHandler, outside of any lock. cmd/server registers one
// that persists the store; internal/admin's handlers broadcast to the
// hub themselves.
type ChangeEvent struct {
	Kind           string // "updated", "cleared", "deleted"
	Count          int    // cookie count after the change
	LoggedIn       bool
	DeletedCount   int // "deleted" only
	RemainingCount int // "deleted" only
	At             time.Time
}

// Store is the credential store: the authoritative in-memory set of
// cookies, grouped by domain, and the derived login-state flag.
// Grounded on ServerState in original_source/remote_browser_server.py.
type Store struct {
	mu          sync.RWMutex
	cookies     []Cookie
	byDomain    map[string][]int // normalized domain -> indices into cookies
	loggedIn    bool
	lastUpdated time.Time
	dataDir     string
	onChange    func(ChangeEvent)
}

// NewStore creates an empty store rooted at dataDir for persistence.
func NewStore(dataDir string) *Store {
	return &Store{
		dataDir:  dataDir,
		byDomain: make(map[string][]int),
	}
}

// SetChangeHandler registers the callback invoked after every mutating
// operation. Only one handler is supported; called synchronously but
// never while storeMutex is held.
func (s *Store) SetChangeHandler(fn func(ChangeEvent)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) fire(ev ChangeEvent) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// rebuildIndexLocked recomputes byDomain from cookies. Called after
// every mutation; storeMutex must already be held for write.
func (s *Store) rebuildIndexLocked() {
	s.byDomain = make(map[string][]int, len(s.cookies))
	for i, c := range s.cookies {
		d := NormalizeDomain(c.Domain)
		s.byDomain[d] = append(s.byDomain[d], i)
	}
}

// GetAll returns a copy of every cookie plus the login-state flag and
// last-updated timestamp.
func (s *Store) GetAll() ([]Cookie, bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out, s.loggedIn, s.lastUpdated
}

// GetForDomains returns every cookie whose domain is an exact match for
// one of the given domains (normalized internally). Domains are treated
// as opaque, distinct keys: a.b.com and b.com never share cookies.
func (s *Store) GetForDomains(domains []string) []Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		wanted[NormalizeDomain(d)] = struct{}{}
	}
	var out []Cookie
	for _, c := range s.cookies {
		if _, ok := wanted[NormalizeDomain(c.Domain)]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ListDomains returns the sorted set of normalized domains currently
// present in the store.
func (s *Store) ListDomains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	domains := make([]string, 0, len(s.byDomain))
	for d := range s.byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// DomainExists reports whether any cookie is present for the
// (normalized) domain. Implements access.DomainChecker.
func (s *Store) DomainExists(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byDomain[NormalizeDomain(domain)]
	return ok
}

// DomainCounts returns, for every normalized domain currently present,
// the number of cookies held for it. Used by GET /domains.
func (s *Store) DomainCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.byDomain))
	for d, idxs := range s.byDomain {
		out[d] = len(idxs)
	}
	return out
}

func validateAll(cookies []Cookie) error {
	for _, c := range cookies {
		if !c.Valid() {
			return ErrMalformedCookie
		}
	}
	return nil
}

func anyLooksAuthed(cookies []Cookie) bool {
	for _, c := range cookies {
		if looksLikeAuthCookie(c.Name) {
			return true
		}
	}
	return false
}

// AdminReplace force-replaces the entire cookie set (the "import"
// operation). If loggedIn is nil, the login-state flag is derived
// from the login heuristic over the new set; otherwise it is set
// explicitly. Mirrors import_cookies in server_api_extensions.py.
func (s *Store) AdminReplace(cookies []Cookie, loggedIn *bool) (int, error) {
	if err := validateAll(cookies); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.cookies = append([]Cookie(nil), cookies...)
	if loggedIn != nil {
		s.loggedIn = *loggedIn
	} else {
		s.loggedIn = anyLooksAuthed(s.cookies)
	}
	s.lastUpdated = time.Now()
	s.rebuildIndexLocked()
	count := len(s.cookies)
	loggedInNow := s.loggedIn
	s.mu.Unlock()

	debug.Log("store", "replaced cookie set: count=%d logged_in=%v", count, loggedInNow)
	s.fire(ChangeEvent{Kind: "updated", Count: count, LoggedIn: loggedInNow, At: time.Now()})
	return count, nil
}

// AdminMerge merges cookies into the existing set by identity key,
// new-wins. Login state only ever turns on by merge, never off.
// Mirrors smart_import_cookies's per-cookie merge loop.
func (s *Store) AdminMerge(cookies []Cookie) (int, error) {
	if err := validateAll(cookies); err != nil {
		return 0, err
	}
	s.mu.Lock()
	byKey := make(map[Key]int, len(s.cookies))
	for i, c := range s.cookies {
		byKey[c.IdentityKey()] = i
	}
	changed := 0
	for _, nc := range cookies {
		k := nc.IdentityKey()
		if idx, ok := byKey[k]; ok {
			s.cookies[idx] = nc
		} else {
			s.cookies = append(s.cookies, nc)
			byKey[k] = len(s.cookies) - 1
		}
		changed++
	}
	if anyLooksAuthed(cookies) {
		s.loggedIn = true
	}
	s.lastUpdated = time.Now()
	s.rebuildIndexLocked()
	count := len(s.cookies)
	loggedInNow := s.loggedIn
	s.mu.Unlock()

	debug.Log("store", "merged %d cookies: total=%d logged_in=%v", changed, count, loggedInNow)
	s.fire(ChangeEvent{Kind: "updated", Count: count, LoggedIn: loggedInNow, At: time.Now()})
	return changed, nil
}

// AdminClear empties the store and resets login state. Mirrors
// clear_cookies.
func (s *Store) AdminClear() {
	s.mu.Lock()
	s.cookies = nil
	s.loggedIn = false
	s.lastUpdated = time.Now()
	s.rebuildIndexLocked()
	s.mu.Unlock()

	debug.Log("store", "cleared cookie set")
	s.fire(ChangeEvent{Kind: "cleared", Count: 0, LoggedIn: false, At: time.Now()})
}

// AdminDelete removes the cookies matching any of the given identity
// keys. If the set is empty afterward, login state resets to false.
// Mirrors delete_selected_cookies.
func (s *Store) AdminDelete(keys []Key) (deleted, remaining int) {
	want := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if k.Path == "" {
			k.Path = "/"
		}
		want[k] = struct{}{}
	}

	s.mu.Lock()
	kept := s.cookies[:0:0]
	for _, c := range s.cookies {
		if _, match := want[c.IdentityKey()]; match {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	s.cookies = kept
	remaining = len(s.cookies)
	if remaining == 0 {
		s.loggedIn = false
	}
	s.lastUpdated = time.Now()
	s.rebuildIndexLocked()
	s.mu.Unlock()

	debug.Log("store", "deleted %d cookies: remaining=%d", deleted, remaining)
	s.fire(ChangeEvent{Kind: "deleted", DeletedCount: deleted, RemainingCount: remaining, At: time.Now()})
	return deleted, remaining
}
