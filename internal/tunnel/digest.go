package tunnel

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"slices"
	"strings"
)

var digestAlgorithms = map[string]func() hash.Hash{
	"MD5":         md5.New,
	"SHA-256":     sha256.New,
	"SHA-512-256": sha512.New512_256,
}

type digestAuth struct {
	proxy ProxyConfig

	realm     string
	nonce     string
	opaque    string
	algorithm string
	qop       string

	// nc counts Apply calls for the lifetime of the authenticator.
	nc uint32

	// cnonce returns a fresh client nonce.
	cnonce func() (string, error)
}

func newDigestAuth(proxy ProxyConfig) *digestAuth {
	return &digestAuth{proxy: proxy, cnonce: randomClientNonce}
}

func (a *digestAuth) Scheme() string {
	return "Digest"
}

func (a *digestAuth) Handles(challenge string) bool {
	return hasScheme(challenge, "digest")
}

func (a *digestAuth) SetChallenge(challenge string) bool {
	params := parseChallengeParams(challenge)

	nonce := params["nonce"]
	if nonce == "" {
		return false
	}

	algorithm := strings.ToUpper(params["algorithm"])
	if algorithm == "" {
		algorithm = "MD5"
	}
	if _, ok := digestAlgorithms[algorithm]; !ok {
		return false
	}

	a.realm = params["realm"]
	a.nonce = nonce
	a.opaque = params["opaque"]
	a.algorithm = algorithm
	a.qop = ""

	if serverQOP, ok := params["qop"]; ok {
		var offered []string
		for q := range strings.SplitSeq(serverQOP, ",") {
			offered = append(offered, strings.ToLower(strings.TrimSpace(q)))
		}
		switch {
		case slices.Contains(offered, "auth"):
			a.qop = "auth"
		case slices.Contains(offered, "auth-int"):
			a.qop = "auth-int"
		}
	}

	return true
}

func (a *digestAuth) Apply(req *Request) error {
	newHash, ok := digestAlgorithms[a.algorithm]
	if !ok {
		return fmt.Errorf("unsupported digest algorithm %q", a.algorithm)
	}

	uri := req.Authority()

	var nc, cnonce string
	if a.qop != "" {
		a.nc++
		nc = fmt.Sprintf("%08x", a.nc)
		var err error
		if cnonce, err = a.cnonce(); err != nil {
			return fmt.Errorf("client nonce: %w", err)
		}
	}

	response := digestResponse(newHash, "CONNECT", uri, a.proxy.Username, a.realm, a.proxy.Password, a.nonce, nc, cnonce, a.qop)

	var b strings.Builder
	b.WriteString("Digest username=")
	writeQuoted(&b, a.proxy.Username)
	b.WriteString(", realm=")
	writeQuoted(&b, a.realm)
	b.WriteString(", nonce=")
	writeQuoted(&b, a.nonce)
	if a.opaque != "" {
		b.WriteString(", opaque=")
		writeQuoted(&b, a.opaque)
	}
	b.WriteString(", algorithm=")
	b.WriteString(a.algorithm)
	b.WriteString(", uri=")
	writeQuoted(&b, uri)
	if a.qop != "" {
		b.WriteString(", qop=")
		b.WriteString(a.qop)
		b.WriteString(", nc=")
		b.WriteString(nc)
		b.WriteString(", cnonce=")
		writeQuoted(&b, cnonce)
	}
	b.WriteString(", response=")
	writeQuoted(&b, response)

	return req.SetHeader(proxyAuthorizationHeader, b.String())
}

// digestResponse computes the RFC 7616 request-digest. With qop auth-int
// the entity body hash is that of an empty body: a CONNECT request carries
// no entity.
func digestResponse(newHash func() hash.Hash, method, uri, user, realm, password, nonce, nc, cnonce, qop string) string {
	h := func(s string) string {
		d := newHash()
		d.Write([]byte(s))
		return hex.EncodeToString(d.Sum(nil))
	}

	ha1 := h(user + ":" + realm + ":" + password)

	a2 := method + ":" + uri
	if qop == "auth-int" {
		a2 += ":" + h("")
	}
	ha2 := h(a2)

	if qop == "" {
		return h(ha1 + ":" + nonce + ":" + ha2)
	}
	return h(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2)
}

func randomClientNonce() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// parseChallengeParams returns the lower-cased auth-param names of a
// challenge mapped to their unquoted values.
func parseChallengeParams(challenge string) map[string]string {
	params := make(map[string]string)

	challenge = strings.TrimSpace(challenge)
	i := strings.IndexAny(challenge, " \t")
	if i < 0 {
		return params
	}
	rest := challenge[i+1:]

	for _, part := range splitParams(rest) {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = unquote(value[1 : len(value)-1])
		}
		params[name] = value
	}

	return params
}

// splitParams splits on commas outside quoted strings. A backslash escapes
// the following character.
func splitParams(s string) []string {
	var parts []string
	start := 0
	inQuotes := false

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			inQuotes = !inQuotes
		case ',':
			if inQuotes {
				continue
			}
			if part := strings.TrimSpace(s[start:i]); part != "" {
				parts = append(parts, part)
			}
			start = i + 1
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		parts = append(parts, part)
	}

	return parts
}

func unquote(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
}
