package security

import (
	"crypto/subtle"
	"net/netip"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/llm-gateway/internal/audit"
)

// Reason explains why a guard check rejected a caller
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonIPBlocked         Reason = "ip_blocked"
	ReasonInvalidCredential Reason = "invalid_credential"
)

// Decision is the outcome of a guard check
type Decision struct {
	Allowed bool
	Reason  Reason
}

// AllowList is a parsed set of permitted origins. The zero value permits
// every origin.
type AllowList struct {
	prefixes []netip.Prefix
	exact    map[netip.Addr]struct{}
	raw      map[string]struct{}
}

// Empty reports whether the list places no restriction
func (l AllowList) Empty() bool {
	return len(l.prefixes) == 0 && len(l.exact) == 0 && len(l.raw) == 0
}

// ParseAllowList builds an allow-list from configuration entries. Entries
// containing "/" are network ranges; host bits are masked off. Other entries
// are exact addresses.
func ParseAllowList(entries []string) AllowList {
	list := AllowList{
		exact: make(map[netip.Addr]struct{}),
		raw:   make(map[string]struct{}),
	}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				log.Warn().Err(err).Str("entry", entry).Msg("Skipping invalid allow-list range")
				continue
			}
			list.prefixes = append(list.prefixes, prefix.Masked())
			continue
		}

		if addr, err := netip.ParseAddr(entry); err == nil {
			list.exact[addr.Unmap()] = struct{}{}
			continue
		}
		list.raw[entry] = struct{}{}
	}

	return list
}

// OriginAllowed reports whether addr passes the allow-list
func OriginAllowed(addr string, list AllowList) bool {
	if list.Empty() {
		return true
	}

	if _, ok := list.raw[addr]; ok {
		return true
	}

	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()

	if _, ok := list.exact[ip]; ok {
		return true
	}
	for _, prefix := range list.prefixes {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// CredentialMatches compares a presented credential with the configured
// secret in constant time. An empty credential never matches.
func CredentialMatches(presented, secret string) bool {
	if presented == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// Guard admits or rejects callers by origin address and bearer credential
type Guard struct {
	secret string
	allow  AllowList
	audit  *audit.Sink
}

// NewGuard creates a guard for the shared secret and allow-list
func NewGuard(secret string, allow AllowList, sink *audit.Sink) *Guard {
	if sink == nil {
		sink = audit.Nop()
	}
	return &Guard{secret: secret, allow: allow, audit: sink}
}

// Check evaluates the origin first and the credential second. Exactly one
// audit fact is recorded per call.
func (g *Guard) Check(credential, addr, endpoint string) Decision {
	if !OriginAllowed(addr, g.allow) {
		g.audit.Record(addr, endpoint, audit.StatusIPBlocked, nil)
		return Decision{Reason: ReasonIPBlocked}
	}

	if !CredentialMatches(credential, g.secret) {
		g.audit.Record(addr, endpoint, audit.StatusAuthFailed, map[string]any{
			"reason": "Invalid API key",
		})
		return Decision{Reason: ReasonInvalidCredential}
	}

	g.audit.Record(addr, endpoint, audit.StatusAuthOK, nil)
	return Decision{Allowed: true}
}
