package httpparse

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// DefaultMaxHeaderBytes bounds the status line plus header block.
const DefaultMaxHeaderBytes = 64 << 10

var (
	// ErrMalformedStatusLine is returned for a status line that is not
	// "HTTP/x.y NNN [reason]".
	ErrMalformedStatusLine = errors.New("httpparse: malformed status line")

	// ErrMalformedHeader is returned for a header line that is not a valid
	// field or continuation.
	ErrMalformedHeader = errors.New("httpparse: malformed header line")

	// ErrHeaderTooLarge is returned once more than MaxHeaderBytes have been
	// consumed without reaching the end of the header block.
	ErrHeaderTooLarge = errors.New("httpparse: header block too large")
)

// Listener receives parse events in order: SetStatus once, AddHeader for
// each field, then SetRemaining once the blank line is reached.
type Listener interface {
	SetStatus(code int, reason string)
	AddHeader(name, value string)
	SetRemaining(b []byte)
}

type state int

const (
	stateStatusLine state = iota
	stateHeaders
	stateDone
)

// Parser is an incremental HTTP/1.1 response header parser. It is not safe
// for concurrent use.
type Parser struct {
	// MaxHeaderBytes limits how much input is accepted before the header
	// block ends. Zero means DefaultMaxHeaderBytes.
	MaxHeaderBytes int

	l     Listener
	state state
	line  []byte
	total int

	pendingName  string
	pendingValue string
	pending      bool
}

// NewParser returns a Parser reporting to l.
func NewParser(l Listener) *Parser {
	return &Parser{l: l}
}

// Done reports whether the complete header block has been parsed.
func (p *Parser) Done() bool {
	return p.state == stateDone
}

// Parse consumes b. It returns true once the blank line terminating the
// header block has been seen; at that point the bytes of b following the
// header block have been handed to Listener.SetRemaining. It returns false
// with a nil error when more input is needed.
func (p *Parser) Parse(b []byte) (bool, error) {
	if p.state == stateDone {
		return true, nil
	}

	limit := p.MaxHeaderBytes
	if limit <= 0 {
		limit = DefaultMaxHeaderBytes
	}

	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			p.total += len(b)
			if p.total > limit {
				return false, ErrHeaderTooLarge
			}
			p.line = append(p.line, b...)
			return false, nil
		}

		p.total += i + 1
		if p.total > limit {
			return false, ErrHeaderTooLarge
		}

		line := b[:i]
		if len(p.line) > 0 {
			p.line = append(p.line, line...)
			line = p.line
		}
		b = b[i+1:]

		done, err := p.handleLine(string(bytes.TrimSuffix(line, []byte{'\r'})))
		p.line = p.line[:0]
		if err != nil {
			return false, err
		}
		if done {
			p.state = stateDone
			p.l.SetRemaining(bytes.Clone(b))
			return true, nil
		}
	}

	return false, nil
}

func (p *Parser) handleLine(line string) (bool, error) {
	switch p.state {
	case stateStatusLine:
		// Tolerate stray CRLFs ahead of the status line (RFC 9112 2.2).
		if line == "" {
			return false, nil
		}
		code, reason, err := parseStatusLine(line)
		if err != nil {
			return false, err
		}
		p.l.SetStatus(code, reason)
		p.state = stateHeaders
		return false, nil

	case stateHeaders:
		if line == "" {
			p.flush()
			return true, nil
		}

		// obs-fold continuation of the previous field.
		if line[0] == ' ' || line[0] == '\t' {
			if !p.pending {
				return false, fmt.Errorf("%w: continuation without field", ErrMalformedHeader)
			}
			p.pendingValue += " " + strings.Trim(line, " \t")
			return false, nil
		}

		p.flush()

		name, value, ok := strings.Cut(line, ":")
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			return false, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		value = strings.Trim(value, " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return false, fmt.Errorf("%w: invalid value for %q", ErrMalformedHeader, name)
		}
		p.pendingName, p.pendingValue, p.pending = name, value, true
		return false, nil
	}

	return true, nil
}

func (p *Parser) flush() {
	if !p.pending {
		return
	}
	p.l.AddHeader(p.pendingName, p.pendingValue)
	p.pendingName, p.pendingValue, p.pending = "", "", false
}

func parseStatusLine(line string) (int, string, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !validProto(proto) {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedStatusLine, line)
	}

	codeStr, reason, _ := strings.Cut(rest, " ")
	if len(codeStr) != 3 {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedStatusLine, line)
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 {
		return 0, "", fmt.Errorf("%w: invalid status code %q", ErrMalformedStatusLine, codeStr)
	}

	return code, strings.TrimSpace(reason), nil
}

func validProto(proto string) bool {
	v, ok := strings.CutPrefix(proto, "HTTP/")
	if !ok || len(v) != 3 || v[1] != '.' {
		return false
	}
	return isDigit(v[0]) && isDigit(v[2])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
