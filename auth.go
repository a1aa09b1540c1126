// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/infinite-iroha/touka"

	"github.com/infinite-iroha/minato/davpath"
)

// Context keys set by the authenticator for downstream middleware and the
// engine.
const (
	authUserKey  = "minato.auth.user"
	authRealmKey = "minato.auth.realm"
)

// DomainController maps request paths to realms and validates
// credentials. Implementations decide which realms require
// authentication at all.
type DomainController interface {
	// DomainRealm names the realm a path belongs to.
	DomainRealm(path string) string

	// RequireAuthentication reports whether anonymous access to the
	// realm is refused.
	RequireAuthentication(realm string) bool

	// BasicAuthUser validates a cleartext credential pair.
	BasicAuthUser(realm, user, password string) bool

	// SupportsHTTPDigestAuth reports whether DigestHA1 is usable.
	SupportsHTTPDigestAuth() bool

	// DigestHA1 returns the hex MD5 of "user:realm:password" for digest
	// verification.
	DigestHA1(realm, user string) (string, bool)
}

// SimpleDC is the configuration-table domain controller: realms per share
// prefix, users per realm, cleartext passwords. Cleartext storage is what
// lets it serve both Basic and Digest.
type SimpleDC struct {
	// Realms maps share prefixes to realm names, longest prefix wins.
	Realms map[string]string

	// Users maps realm -> user -> password.
	Users map[string]map[string]string

	// Anonymous lists realms that skip authentication entirely.
	Anonymous map[string]bool
}

func (dc *SimpleDC) DomainRealm(path string) string {
	path = davpath.Normalize(path)
	best, realm := -1, ""
	for prefix, r := range dc.Realms {
		if davpath.InTree(path, davpath.Normalize(prefix)) && len(prefix) > best {
			best, realm = len(prefix), r
		}
	}
	return realm
}

func (dc *SimpleDC) RequireAuthentication(realm string) bool {
	return !dc.Anonymous[realm]
}

func (dc *SimpleDC) BasicAuthUser(realm, user, password string) bool {
	stored, ok := dc.Users[realm][user]
	return ok && subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

func (dc *SimpleDC) SupportsHTTPDigestAuth() bool { return true }

func (dc *SimpleDC) DigestHA1(realm, user string) (string, bool) {
	password, ok := dc.Users[realm][user]
	if !ok {
		return "", false
	}
	return md5hex(user + ":" + realm + ":" + password), true
}

// Authenticator is the HTTP authentication middleware: Basic and Digest
// (RFC 7616, MD5 variant), credential checks delegated to the domain
// controller.
type Authenticator struct {
	DC           DomainController
	EnableBasic  bool
	EnableDigest bool

	// NonceLifetime bounds digest nonce reuse. Zero means ten minutes.
	NonceLifetime time.Duration

	secret string
}

// NewAuthenticator builds an authenticator. Enabling digest against a DC
// without digest support downgrades to basic.
func NewAuthenticator(dc DomainController, basic, digest bool) *Authenticator {
	if digest && !dc.SupportsHTTPDigestAuth() {
		digest = false
		basic = true
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("minato: entropy source failed: %v", err))
	}
	return &Authenticator{
		DC:           dc,
		EnableBasic:  basic,
		EnableDigest: digest,
		secret:       hex.EncodeToString(b),
	}
}

// Middleware returns the touka handler enforcing authentication for the
// realm of each request path.
func (a *Authenticator) Middleware() touka.HandlerFunc {
	return func(c *touka.Context) {
		path, err := davpath.Decode(c.Request.URL.EscapedPath())
		if err != nil {
			path = davpath.Normalize(c.Request.URL.Path)
		}
		realm := a.DC.DomainRealm(path)
		if !a.DC.RequireAuthentication(realm) {
			c.Next()
			return
		}

		header := c.GetReqHeader("Authorization")
		switch {
		case a.EnableDigest && strings.HasPrefix(header, "Digest "):
			if user, ok := a.checkDigest(c, realm, header); ok {
				c.Set(authUserKey, user)
				c.Set(authRealmKey, realm)
				c.Next()
				return
			}
		case a.EnableBasic && strings.HasPrefix(header, "Basic "):
			if user, password, ok := c.Request.BasicAuth(); ok && a.DC.BasicAuthUser(realm, user, password) {
				c.Set(authUserKey, user)
				c.Set(authRealmKey, realm)
				c.Next()
				return
			}
		}
		a.challenge(c, realm)
	}
}

// challenge answers 401 with one WWW-Authenticate header per enabled
// scheme, digest first.
func (a *Authenticator) challenge(c *touka.Context, realm string) {
	if a.EnableDigest {
		c.AddHeader("WWW-Authenticate", fmt.Sprintf(
			`Digest realm="%s", qop="auth", nonce="%s", algorithm=MD5`, realm, a.makeNonce()))
	}
	if a.EnableBasic {
		c.AddHeader("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, realm))
	}
	c.SetHeader("Content-Length", "0")
	c.AbortWithStatus(http.StatusUnauthorized)
}

// makeNonce builds a stateless, self-authenticating nonce:
// base64(timestamp ":" H(timestamp ":" secret)).
func (a *Authenticator) makeNonce() string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return base64.StdEncoding.EncodeToString([]byte(ts + ":" + md5hex(ts+":"+a.secret)))
}

// nonceValid verifies a nonce's signature and age.
func (a *Authenticator) nonceValid(nonce string) bool {
	raw, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(md5hex(parts[0]+":"+a.secret))) != 1 {
		return false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return false
	}
	lifetime := a.NonceLifetime
	if lifetime == 0 {
		lifetime = 10 * time.Minute
	}
	age := time.Since(time.Unix(ts, 0))
	return age >= -time.Minute && age <= lifetime
}

// checkDigest validates a Digest response header value.
func (a *Authenticator) checkDigest(c *touka.Context, realm, header string) (string, bool) {
	fields := parseDigestHeader(strings.TrimPrefix(header, "Digest "))
	user := fields["username"]
	nonce := fields["nonce"]
	uri := fields["uri"]
	response := fields["response"]
	if user == "" || nonce == "" || uri == "" || response == "" {
		return "", false
	}
	if r := fields["realm"]; r != "" && r != realm {
		return "", false
	}
	if alg := fields["algorithm"]; alg != "" && !strings.EqualFold(alg, "MD5") {
		return "", false
	}
	if !a.nonceValid(nonce) {
		return "", false
	}
	// The digest URI must name the resource being requested.
	if reqURI := c.Request.URL.RequestURI(); uri != reqURI && uri != c.Request.URL.Path {
		return "", false
	}

	ha1, ok := a.DC.DigestHA1(realm, user)
	if !ok {
		return "", false
	}
	ha2 := md5hex(c.Request.Method + ":" + uri)

	var expected string
	if qop := fields["qop"]; qop == "auth" {
		nc, cnonce := fields["nc"], fields["cnonce"]
		if nc == "" || cnonce == "" {
			return "", false
		}
		expected = md5hex(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":auth:" + ha2)
	} else if qop == "" {
		expected = md5hex(ha1 + ":" + nonce + ":" + ha2)
	} else {
		return "", false
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(response)) != 1 {
		return "", false
	}
	return user, true
}

// parseDigestHeader splits the comma-separated key=value fields of a
// Digest credential, honoring quoted values.
func parseDigestHeader(s string) map[string]string {
	fields := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]
		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				break
			}
			value = s[1 : 1+end]
			s = s[2+end:]
		} else if comma := strings.IndexByte(s, ','); comma >= 0 {
			value = strings.TrimSpace(s[:comma])
			s = s[comma:]
		} else {
			value = strings.TrimSpace(s)
			s = ""
		}
		fields[key] = value
		s = strings.TrimPrefix(strings.TrimSpace(s), ",")
		s = strings.TrimSpace(s)
	}
	return fields
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
