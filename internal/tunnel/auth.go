package tunnel

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/die-net/wsconnect/internal/ntlm"
)

const (
	proxyAuthenticateHeader  = "Proxy-Authenticate"
	proxyAuthorizationHeader = "Proxy-Authorization"
)

// Authenticator answers one proxy authentication scheme.
type Authenticator interface {
	// Scheme returns the scheme name, e.g. "Basic".
	Scheme() string

	// Handles reports whether challenge is for this scheme and the
	// authenticator is able to answer it.
	Handles(challenge string) bool

	// SetChallenge parses the challenge parameters. False rejects the
	// challenge.
	SetChallenge(challenge string) bool

	// Apply writes Proxy-Authorization to req and advances internal state,
	// marking req complete once no further round is expected.
	Apply(req *Request) error
}

// newAuthenticators returns one of each supported method in probe order.
func newAuthenticators(proxy ProxyConfig, log logrus.FieldLogger) []Authenticator {
	return []Authenticator{
		newNTLMAuth(proxy, log, &ntlm.Codec{}),
		newDigestAuth(proxy),
		newBasicAuth(proxy),
	}
}

// selectAuthenticator picks the method that will answer challenges. A
// method already selected for req is the only candidate, since a proxy may
// not switch schemes mid-handshake. Otherwise the first candidate, in
// order, that both handles and accepts any challenge wins.
func selectAuthenticator(req *Request, candidates []Authenticator, challenges []string, log logrus.FieldLogger) (Authenticator, error) {
	if a := req.Authenticator(); a != nil {
		for _, ch := range challenges {
			if a.Handles(ch) && a.SetChallenge(ch) {
				log.Debugf("continuing with %s authentication", a.Scheme())
				return a, nil
			}
		}
		log.Warnf("selected %s authentication can't handle challenge %q", a.Scheme(), challenges)
		return nil, ErrAuthenticatorMismatch
	}

	log.Debugf("finding authentication method for challenges %q", challenges)
	for _, a := range candidates {
		for _, ch := range challenges {
			if a.Handles(ch) && a.SetChallenge(ch) {
				return a, nil
			}
		}
	}
	return nil, ErrNoAuthenticator
}

// hasScheme reports whether challenge names scheme, ignoring case.
func hasScheme(challenge, scheme string) bool {
	if len(challenge) < len(scheme) || !strings.EqualFold(challenge[:len(scheme)], scheme) {
		return false
	}
	return len(challenge) == len(scheme) || challenge[len(scheme)] == ' ' || challenge[len(scheme)] == '\t'
}
