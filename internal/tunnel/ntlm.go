package tunnel

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/die-net/wsconnect/internal/ntlm"
)

type ntlmState int

const (
	ntlmUninitiated ntlmState = iota
	ntlmChallengeReceived
	ntlmType1Generated
	ntlmType2Received
	ntlmType3Generated
	ntlmFailed
)

func (s ntlmState) String() string {
	switch s {
	case ntlmUninitiated:
		return "uninitiated"
	case ntlmChallengeReceived:
		return "challenge-received"
	case ntlmType1Generated:
		return "type1-generated"
	case ntlmType2Received:
		return "type2-received"
	case ntlmType3Generated:
		return "type3-generated"
	case ntlmFailed:
		return "failed"
	default:
		return fmt.Sprintf("ntlmState(%d)", int(s))
	}
}

const negotiateFlags = ntlm.Negotiate56 |
	ntlm.Negotiate128 |
	ntlm.NegotiateNTLM2 |
	ntlm.NegotiateAlwaysSign |
	ntlm.RequestTarget |
	ntlm.NegotiateUnicode |
	ntlm.NegotiateOEM |
	ntlm.NegotiateNTLM

var errNTLMState = errors.New("unexpected NTLM state")

type ntlmAuth struct {
	proxy ProxyConfig
	log   logrus.FieldLogger
	codec *ntlm.Codec

	state ntlmState
	type2 string
}

func newNTLMAuth(proxy ProxyConfig, log logrus.FieldLogger, codec *ntlm.Codec) *ntlmAuth {
	return &ntlmAuth{proxy: proxy, log: log, codec: codec}
}

func (a *ntlmAuth) Scheme() string {
	return "NTLM"
}

func (a *ntlmAuth) Handles(challenge string) bool {
	if !hasScheme(challenge, "ntlm") || a.state == ntlmFailed {
		return false
	}
	if _, ok := a.proxy.Domain(); !ok {
		a.log.Warn("NTLM proxy authentication offered, but username has no domain (DOMAIN\\user); missing domain")
		return false
	}
	return true
}

func (a *ntlmAuth) SetChallenge(challenge string) bool {
	payload := strings.TrimSpace(challenge[len("ntlm"):])

	switch {
	case payload == "" && a.state == ntlmUninitiated:
		if !a.proxy.HasCredentials() {
			a.state = ntlmFailed
			return false
		}
		a.state = ntlmChallengeReceived
	case payload != "" && a.state == ntlmType1Generated:
		a.type2 = payload
		a.state = ntlmType2Received
	default:
		a.state = ntlmFailed
		return false
	}

	return true
}

func (a *ntlmAuth) Apply(req *Request) error {
	domain, _ := a.proxy.Domain()

	switch a.state {
	case ntlmChallengeReceived:
		msg := a.codec.Negotiate(negotiateFlags, domain, "")
		if err := req.SetHeader(proxyAuthorizationHeader, "NTLM "+base64.StdEncoding.EncodeToString(msg)); err != nil {
			a.state = ntlmFailed
			return err
		}
		a.state = ntlmType1Generated
		return nil

	case ntlmType2Received:
		raw, err := base64.StdEncoding.DecodeString(a.type2)
		if err != nil {
			a.state = ntlmFailed
			return fmt.Errorf("decoding NTLM challenge: %w", err)
		}
		ch, err := ntlm.ParseChallenge(raw)
		if err != nil {
			a.state = ntlmFailed
			return fmt.Errorf("decoding NTLM challenge: %w", err)
		}

		flags := ch.Flags &^ (ntlm.TargetTypeDomain | ntlm.TargetTypeServer)
		msg, err := a.codec.Authenticate(ch, flags, domain, a.proxy.BareUsername(), a.proxy.Password, "")
		if err != nil {
			a.state = ntlmFailed
			return err
		}
		if err := req.SetHeader(proxyAuthorizationHeader, "NTLM "+base64.StdEncoding.EncodeToString(msg)); err != nil {
			a.state = ntlmFailed
			return err
		}
		a.state = ntlmType3Generated
		req.SetAuthComplete(true)
		return nil

	default:
		state := a.state
		a.state = ntlmFailed
		return fmt.Errorf("%w: apply in state %s", errNTLMState, state)
	}
}
