// Package auth implements component F: credential checking, IP
// allow/deny, and per-topic read/write ACL evaluation (§4.F).
package auth

import (
	"net"

	"github.com/BurntSushi/toml"
)

// Access is one of the four ACL grant levels (§4.F).
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "readwrite"
	AccessDeny      Access = "deny"
)

func (a Access) allowsRead() bool  { return a == AccessRead || a == AccessReadWrite }
func (a Access) allowsWrite() bool { return a == AccessWrite || a == AccessReadWrite }

// TopicRule pairs a topic filter with the access level it grants.
type TopicRule struct {
	Topic  string `toml:"topic"`
	Access Access `toml:"access"`
}

// ClientRule scopes a list of TopicRules to one client_id.
type ClientRule struct {
	ClientID   string      `toml:"client_id"`
	TopicRules []TopicRule `toml:"topic_rules"`
}

// Credential is one row of the auth file's credentials list. Password
// is always the SHA-256 hex digest (§4.F point 4), never the clear
// value.
type Credential struct {
	ClientID string  `toml:"client_id"`
	Username *string `toml:"username"`
	Password string  `toml:"password"`
}

// File is the decoded auth file (§6 "Auth file").
type File struct {
	TopicAllRules    []TopicRule  `toml:"topic_all_rules"`
	TopicClientRules []ClientRule `toml:"topic_client_rules"`
	Credentials      []Credential `toml:"credentials"`
	IPWhitelist      []string     `toml:"ip_whitelist"`
	IPBlacklist      []string     `toml:"ip_blacklist"`

	whitelistNets []*net.IPNet
	blacklistNets []*net.IPNet
}

// LoadFile decodes path as the TOML auth file, pre-parsing its CIDR
// lists. CIDR parsing has no pack-supplied alternative to net's —
// see DESIGN.md.
func LoadFile(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}

	for _, cidr := range f.IPWhitelist {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		f.whitelistNets = append(f.whitelistNets, n)
	}
	for _, cidr := range f.IPBlacklist {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		f.blacklistNets = append(f.blacklistNets, n)
	}

	return &f, nil
}

func (f *File) ipWhitelisted(ip net.IP) bool {
	if len(f.whitelistNets) == 0 {
		return true
	}
	for _, n := range f.whitelistNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (f *File) ipBlacklisted(ip net.IP) bool {
	for _, n := range f.blacklistNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (f *File) credentialFor(clientID string) *Credential {
	for i := range f.Credentials {
		if f.Credentials[i].ClientID == clientID {
			return &f.Credentials[i]
		}
	}
	return nil
}

// clientRulesFor returns the topic_rules scoped to clientID, nil if
// none.
func (f *File) clientRulesFor(clientID string) []TopicRule {
	for _, cr := range f.TopicClientRules {
		if cr.ClientID == clientID {
			return cr.TopicRules
		}
	}
	return nil
}
