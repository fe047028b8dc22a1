package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pyr33x/mqttd/internal/topicmatch"
	"github.com/pyr33x/mqttd/pkg/er"
	"github.com/pyr33x/mqttd/pkg/hash"
)

// Authenticator evaluates CONNECT credentials (§4.F) and per-topic ACL
// rules on SUBSCRIBE/PUBLISH, backed by a TOML auth File and an
// optional HTTP authenticator plugin.
type Authenticator struct {
	file              *File
	anonymousAllowed  bool
	externalURL       string
	externalTimeout   time.Duration
	httpClient        *http.Client
}

// New builds an Authenticator. file may be nil (no auth file
// configured — anonymousAllowed governs anonymous CONNECTs, a CONNECT
// carrying credentials is refused unless an external authenticator is
// configured, and ACL checks always pass since there are no rules to
// deny with).
func New(file *File, anonymousAllowed bool, externalURL string, externalTimeout time.Duration) *Authenticator {
	return &Authenticator{
		file:             file,
		anonymousAllowed: anonymousAllowed,
		externalURL:      externalURL,
		externalTimeout:  externalTimeout,
		httpClient:       &http.Client{Timeout: externalTimeout},
	}
}

// Authenticate runs §4.F's five steps and returns nil if the CONNECT
// is accepted, or a sentinel *er.Err describing why it was refused.
func (a *Authenticator) Authenticate(ctx context.Context, clientID string, username, password *string, remoteIP net.IP) error {
	if a.file != nil {
		if !a.file.ipWhitelisted(remoteIP) {
			return &er.Err{Context: "auth.Authenticate, IP Whitelist", Message: er.ErrIPNotWhitelisted}
		}
		if a.file.ipBlacklisted(remoteIP) {
			return &er.Err{Context: "auth.Authenticate, IP Blacklist", Message: er.ErrIPBlacklisted}
		}
	}

	if a.externalURL != "" {
		return a.authenticateExternal(ctx, clientID, username, password)
	}

	if username == nil && password == nil {
		if a.anonymousAllowed {
			return nil
		}
		return &er.Err{Context: "auth.Authenticate, Anonymous", Message: er.ErrAnonymousNotAllowed}
	}

	if a.file == nil {
		return &er.Err{Context: "auth.Authenticate, Credentials", Message: er.ErrBadUsernameOrPassword}
	}

	cred := a.file.credentialFor(clientID)
	if cred == nil || password == nil {
		return &er.Err{Context: "auth.Authenticate, Credentials", Message: er.ErrBadUsernameOrPassword}
	}
	if cred.Username != nil && (username == nil || *username != *cred.Username) {
		return &er.Err{Context: "auth.Authenticate, Username", Message: er.ErrBadUsernameOrPassword}
	}
	if !hash.Verify(cred.Password, *password) {
		return &er.Err{Context: "auth.Authenticate, Password", Message: er.ErrBadUsernameOrPassword}
	}

	return nil
}

type externalAuthRequest struct {
	ClientID string  `json:"client_id"`
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

// authenticateExternal defers the decision entirely to the configured
// HTTP plugin: 200 OK allows, anything else (including a timeout)
// denies (§5: "Auth HTTP calls have a configurable timeout; timeout
// => deny").
func (a *Authenticator) authenticateExternal(ctx context.Context, clientID string, username, password *string) error {
	body, err := json.Marshal(externalAuthRequest{ClientID: clientID, Username: username, Password: password})
	if err != nil {
		return &er.Err{Context: "auth.authenticateExternal, Marshal", Message: er.ErrAuthFailure}
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.externalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.externalURL, bytes.NewReader(body))
	if err != nil {
		return &er.Err{Context: "auth.authenticateExternal, Request", Message: er.ErrAuthFailure}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &er.Err{Context: "auth.authenticateExternal, Do", Message: er.ErrAuthenticatorTimeout}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &er.Err{Context: "auth.authenticateExternal, StatusCode", Message: er.ErrAuthFailure}
	}
	return nil
}

// Authorize reports whether clientID may read (subscribe) or write
// (publish) topic, consulting topic_client_rules before
// topic_all_rules (§4.F, §9 Open Question (c)); with no auth file at
// all, everything is allowed.
func (a *Authenticator) Authorize(clientID, topic string, write bool) bool {
	if a.file == nil {
		return true
	}

	if rule, ok := matchRule(a.file.clientRulesFor(clientID), topic); ok {
		return grants(rule, write)
	}
	if rule, ok := matchRule(a.file.TopicAllRules, topic); ok {
		return grants(rule, write)
	}
	return false
}

func matchRule(rules []TopicRule, topic string) (Access, bool) {
	for _, r := range rules {
		if topicmatch.Matches(r.Topic, topic) {
			return r.Access, true
		}
	}
	return "", false
}

func grants(access Access, write bool) bool {
	if write {
		return access.allowsWrite()
	}
	return access.allowsRead()
}
