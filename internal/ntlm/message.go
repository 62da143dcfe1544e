package ntlm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	typeNegotiate    = 1
	typeChallenge    = 2
	typeAuthenticate = 3

	negotiateHeaderLen    = 32
	challengeHeaderLen    = 48
	authenticateHeaderLen = 64
)

var signature = []byte("NTLMSSP\x00")

var (
	// ErrInvalidMessage is returned for input that is not a well-formed
	// NTLMSSP message of the expected type.
	ErrInvalidMessage = errors.New("ntlm: invalid message")

	utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// Challenge is a decoded CHALLENGE (Type2) message.
type Challenge struct {
	Flags           Flags
	TargetName      string
	ServerChallenge [8]byte
	TargetInfo      []byte
}

type secBuf struct {
	length uint16
	offset uint32
}

func putSecBuf(b []byte, length, offset int) {
	binary.LittleEndian.PutUint16(b[0:], uint16(length))
	binary.LittleEndian.PutUint16(b[2:], uint16(length))
	binary.LittleEndian.PutUint32(b[4:], uint32(offset))
}

func readSecBuf(msg []byte, at int) ([]byte, error) {
	if len(msg) < at+8 {
		return nil, fmt.Errorf("%w: truncated field at %d", ErrInvalidMessage, at)
	}
	sb := secBuf{
		length: binary.LittleEndian.Uint16(msg[at:]),
		offset: binary.LittleEndian.Uint32(msg[at+4:]),
	}
	end := uint64(sb.offset) + uint64(sb.length)
	if end > uint64(len(msg)) {
		return nil, fmt.Errorf("%w: field at %d out of range", ErrInvalidMessage, at)
	}
	return msg[sb.offset:end], nil
}

func checkHeader(msg []byte, minLen int, typ uint32) error {
	if len(msg) < minLen || !bytes.Equal(msg[:8], signature) {
		return fmt.Errorf("%w: bad signature", ErrInvalidMessage)
	}
	if got := binary.LittleEndian.Uint32(msg[8:]); got != typ {
		return fmt.Errorf("%w: message type %d, want %d", ErrInvalidMessage, got, typ)
	}
	return nil
}

func encodeString(s string, unicodeStrings bool) []byte {
	if !unicodeStrings {
		return []byte(s)
	}
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Invalid UTF-8 is replaced rather than rejected by the encoder;
		// fall back to the raw bytes if that ever changes.
		return []byte(s)
	}
	return b
}

func decodeString(b []byte, unicodeStrings bool) string {
	if !unicodeStrings {
		return string(b)
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// ParseChallenge decodes a CHALLENGE (Type2) message.
func ParseChallenge(msg []byte) (*Challenge, error) {
	// Old servers omit the context and target info fields.
	if err := checkHeader(msg, 32, typeChallenge); err != nil {
		return nil, err
	}

	c := &Challenge{Flags: Flags(binary.LittleEndian.Uint32(msg[20:]))}
	copy(c.ServerChallenge[:], msg[24:32])

	name, err := readSecBuf(msg, 12)
	if err != nil {
		return nil, err
	}
	c.TargetName = decodeString(name, c.Flags.Has(NegotiateUnicode))

	if len(msg) >= challengeHeaderLen {
		info, err := readSecBuf(msg, 40)
		if err != nil {
			return nil, err
		}
		c.TargetInfo = bytes.Clone(info)
	}

	return c, nil
}

func marshalNegotiate(flags Flags, domain, workstation string) []byte {
	// Type1 strings are always OEM, upper-cased.
	d := []byte(strings.ToUpper(domain))
	w := []byte(strings.ToUpper(workstation))
	if len(d) > 0 {
		flags |= NegotiateOEMDomainSupplied
	}
	if len(w) > 0 {
		flags |= NegotiateOEMWorkstationSupplied
	}

	b := make([]byte, negotiateHeaderLen, negotiateHeaderLen+len(d)+len(w))
	copy(b, signature)
	binary.LittleEndian.PutUint32(b[8:], typeNegotiate)
	binary.LittleEndian.PutUint32(b[12:], uint32(flags))
	putSecBuf(b[16:], len(d), negotiateHeaderLen)
	putSecBuf(b[24:], len(w), negotiateHeaderLen+len(d))

	b = append(b, d...)
	return append(b, w...)
}

func marshalAuthenticate(flags Flags, lm, nt []byte, domain, user, workstation string) []byte {
	uni := flags.Has(NegotiateUnicode)
	d := encodeString(domain, uni)
	u := encodeString(user, uni)
	w := encodeString(workstation, uni)

	b := make([]byte, authenticateHeaderLen, authenticateHeaderLen+len(lm)+len(nt)+len(d)+len(u)+len(w))
	copy(b, signature)
	binary.LittleEndian.PutUint32(b[8:], typeAuthenticate)

	off := authenticateHeaderLen
	for _, f := range []struct {
		at   int
		data []byte
	}{
		{28, d},
		{36, u},
		{44, w},
		{12, lm},
		{20, nt},
	} {
		putSecBuf(b[f.at:], len(f.data), off)
		b = append(b, f.data...)
		off += len(f.data)
	}
	putSecBuf(b[52:], 0, off)
	binary.LittleEndian.PutUint32(b[60:], uint32(flags))

	return b
}
