package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/die-net/wsconnect/internal/ntlm"
)

// The server half of NTLM, for proxies scripted in tests.

var ntlmSignature = []byte("NTLMSSP\x00")

const (
	ntlmChallengeLen    = 48
	ntlmAuthenticateLen = 64
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// NTLMAuthenticate is a decoded AUTHENTICATE (Type3) message.
type NTLMAuthenticate struct {
	Flags               ntlm.Flags
	LMChallengeResponse []byte
	NTChallengeResponse []byte
	Domain              string
	User                string
	Workstation         string
}

// MarshalNTLMChallenge encodes ch as a CHALLENGE (Type2) message.
func MarshalNTLMChallenge(ch *ntlm.Challenge) []byte {
	name := []byte(ch.TargetName)
	if ch.Flags.Has(ntlm.NegotiateUnicode) {
		name, _ = utf16le.NewEncoder().Bytes(name)
	}

	b := make([]byte, ntlmChallengeLen, ntlmChallengeLen+len(name)+len(ch.TargetInfo))
	copy(b, ntlmSignature)
	binary.LittleEndian.PutUint32(b[8:], 2)
	putNTLMField(b[12:], len(name), ntlmChallengeLen)
	binary.LittleEndian.PutUint32(b[20:], uint32(ch.Flags))
	copy(b[24:], ch.ServerChallenge[:])
	putNTLMField(b[40:], len(ch.TargetInfo), ntlmChallengeLen+len(name))

	b = append(b, name...)
	return append(b, ch.TargetInfo...)
}

// ParseNTLMAuthenticate decodes an AUTHENTICATE (Type3) message.
func ParseNTLMAuthenticate(msg []byte) (*NTLMAuthenticate, error) {
	if len(msg) < ntlmAuthenticateLen || !bytes.Equal(msg[:8], ntlmSignature) || binary.LittleEndian.Uint32(msg[8:]) != 3 {
		return nil, fmt.Errorf("%w: not an AUTHENTICATE message", ntlm.ErrInvalidMessage)
	}

	a := &NTLMAuthenticate{Flags: ntlm.Flags(binary.LittleEndian.Uint32(msg[60:]))}
	uni := a.Flags.Has(ntlm.NegotiateUnicode)

	var fields [5][]byte
	for i, at := range []int{12, 20, 28, 36, 44} {
		n := int(binary.LittleEndian.Uint16(msg[at:]))
		off := int(binary.LittleEndian.Uint32(msg[at+4:]))
		if off+n > len(msg) {
			return nil, fmt.Errorf("%w: field at %d out of range", ntlm.ErrInvalidMessage, at)
		}
		fields[i] = bytes.Clone(msg[off : off+n])
	}

	a.LMChallengeResponse = fields[0]
	a.NTChallengeResponse = fields[1]
	a.Domain = decodeNTLMString(fields[2], uni)
	a.User = decodeNTLMString(fields[3], uni)
	a.Workstation = decodeNTLMString(fields[4], uni)
	return a, nil
}

func putNTLMField(b []byte, length, offset int) {
	binary.LittleEndian.PutUint16(b[0:], uint16(length))
	binary.LittleEndian.PutUint16(b[2:], uint16(length))
	binary.LittleEndian.PutUint32(b[4:], uint32(offset))
}

func decodeNTLMString(b []byte, uni bool) string {
	if !uni {
		return string(b)
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}
