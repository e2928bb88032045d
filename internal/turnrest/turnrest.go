// Package turnrest issues coturn-compatible ephemeral TURN credentials
// (draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<peer_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// The relay hands these out on /ice-config so clients never see the shared
// secret.
package turnrest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"

	"github.com/google/uuid"
)

const defaultPrefix = "stoop"

// Credentials is one short-lived TURN username/credential pair.
type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// IssuerConfig configures an Issuer. Now and NewSessionID exist for tests.
type IssuerConfig struct {
	SharedSecret string
	TTL          time.Duration
	Prefix       string
	Now          func() time.Time
	NewSessionID func() string
}

type Issuer struct {
	secret       []byte
	ttl          time.Duration
	prefix       string
	now          func() time.Time
	newSessionID func() string
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turnrest: TTL must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if strings.Contains(cfg.Prefix, ":") {
		return nil, errors.New("turnrest: prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	return &Issuer{
		secret:       []byte(cfg.SharedSecret),
		ttl:          cfg.TTL,
		prefix:       cfg.Prefix,
		now:          cfg.Now,
		newSessionID: cfg.NewSessionID,
	}, nil
}

// Issue signs credentials tied to peerID. An empty peerID gets a random
// session id, so anonymous clients can still be handed credentials.
func (i *Issuer) Issue(peerID string) (Credentials, error) {
	if peerID == "" {
		peerID = i.newSessionID()
	}
	if strings.Contains(peerID, ":") {
		return Credentials{}, fmt.Errorf("turnrest: peer id %q must not contain ':'", peerID)
	}
	expiresAt := i.now().UTC().Add(i.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expiresAt.Unix(), i.prefix, peerID)
	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  expiresAt,
	}, nil
}

// TTL reports the configured credential lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}
