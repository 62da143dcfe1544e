package ntlm

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/md4" //nolint:staticcheck // NTLM is defined in terms of MD4.
)

const (
	avEOL       = 0x0000
	avTimestamp = 0x0007

	// 100ns intervals between 1601-01-01 and 1970-01-01.
	fileTimeEpoch = 116444736000000000
)

// Codec produces NTLM messages. The zero value is ready to use.
type Codec struct {
	// Rand supplies client challenges. Nil means crypto/rand.
	Rand io.Reader

	// Now supplies the response timestamp when the server does not send
	// one. Nil means time.Now.
	Now func() time.Time
}

// Negotiate returns a NEGOTIATE (Type1) message carrying flags and the
// optional domain and workstation names.
func (c *Codec) Negotiate(flags Flags, domain, workstation string) []byte {
	return marshalNegotiate(flags, domain, workstation)
}

// Authenticate returns an AUTHENTICATE (Type3) message answering ch with
// NTLMv2 responses computed from the credentials. Key exchange is never
// requested, so that bit is cleared from flags.
func (c *Codec) Authenticate(ch *Challenge, flags Flags, domain, user, password, workstation string) ([]byte, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: nil challenge", ErrInvalidMessage)
	}
	flags &^= NegotiateKeyExchange | NegotiateVersion

	var clientChallenge [8]byte
	if _, err := io.ReadFull(c.rand(), clientChallenge[:]); err != nil {
		return nil, fmt.Errorf("ntlm: client challenge: %w", err)
	}

	ts, serverTS := timestamp(ch.TargetInfo)
	if !serverTS {
		ts = fileTime(c.now())
	}

	key := NTOWFv2(password, user, domain)
	nt := ntlmv2Response(key, ch.ServerChallenge, clientChallenge, ts, ch.TargetInfo)

	// With a server timestamp the LMv2 response is replaced by zeros
	// (MS-NLMP 3.1.5.1.2).
	lm := make([]byte, 24)
	if !serverTS {
		lm = lmv2Response(key, ch.ServerChallenge, clientChallenge)
	}

	return marshalAuthenticate(flags, lm, nt, domain, user, workstation), nil
}

func (c *Codec) rand() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// NTOWFv1 is the MD4 hash of the UTF-16LE password.
func NTOWFv1(password string) []byte {
	h := md4.New()
	h.Write(encodeString(password, true))
	return h.Sum(nil)
}

// NTOWFv2 is the NTLMv2 response key for the credentials.
func NTOWFv2(password, user, domain string) []byte {
	return hmacMD5(NTOWFv1(password), encodeString(strings.ToUpper(user)+domain, true))
}

func ntlmv2Response(key []byte, serverChallenge, clientChallenge [8]byte, ts uint64, targetInfo []byte) []byte {
	temp := make([]byte, 28, 28+len(targetInfo)+4)
	temp[0] = 0x01 // RespType
	temp[1] = 0x01 // HiRespType
	binary.LittleEndian.PutUint64(temp[8:], ts)
	copy(temp[16:], clientChallenge[:])
	temp = append(temp, targetInfo...)
	temp = append(temp, 0, 0, 0, 0)

	proof := hmacMD5(key, serverChallenge[:], temp)
	return append(proof, temp...)
}

func lmv2Response(key []byte, serverChallenge, clientChallenge [8]byte) []byte {
	return append(hmacMD5(key, serverChallenge[:], clientChallenge[:]), clientChallenge[:]...)
}

func hmacMD5(key []byte, data ...[]byte) []byte {
	m := hmac.New(md5.New, key)
	for _, d := range data {
		m.Write(d)
	}
	return m.Sum(nil)
}

// timestamp returns the MsvAvTimestamp AV pair from targetInfo, if any.
func timestamp(targetInfo []byte) (uint64, bool) {
	for b := targetInfo; len(b) >= 4; {
		id := binary.LittleEndian.Uint16(b)
		n := int(binary.LittleEndian.Uint16(b[2:]))
		if id == avEOL || len(b) < 4+n {
			break
		}
		if id == avTimestamp && n == 8 {
			return binary.LittleEndian.Uint64(b[4:]), true
		}
		b = b[4+n:]
	}
	return 0, false
}

func fileTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + fileTimeEpoch
}
