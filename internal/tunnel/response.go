package tunnel

import (
	"strings"
)

// Response accumulates a parsed proxy response. Header names are matched
// case-insensitively.
type Response struct {
	StatusCode int
	Reason     string

	// Remaining holds bytes read past the header block until the framer
	// accounts for them.
	Remaining []byte

	// Unframed is set when the body length cannot be determined, so the
	// connection cannot be reused for another request.
	Unframed bool

	header map[string][]string
}

// NewResponse returns an empty Response.
func NewResponse() *Response {
	return &Response{header: make(map[string][]string)}
}

// SetStatus implements httpparse.Listener.
func (r *Response) SetStatus(code int, reason string) {
	r.StatusCode = code
	r.Reason = reason
}

// AddHeader implements httpparse.Listener.
func (r *Response) AddHeader(name, value string) {
	key := strings.ToLower(name)
	r.header[key] = append(r.header[key], value)
}

// SetRemaining implements httpparse.Listener.
func (r *Response) SetRemaining(b []byte) {
	r.Remaining = b
}

// Values returns every value received for the header name, in order.
func (r *Response) Values(name string) []string {
	return r.header[strings.ToLower(name)]
}

// Header returns the values of name joined with ", ", quoting any value
// that would otherwise be ambiguous in a list. It returns "" if absent.
func (r *Response) Header(name string) string {
	values := r.Values(name)
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	}

	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		quoteIfNeeded(&b, v)
	}
	return b.String()
}

// hasToken reports whether any comma-separated element of the header
// equals token, ignoring case.
func (r *Response) hasToken(name, token string) bool {
	for _, v := range r.Values(name) {
		for elem := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(elem), token) {
				return true
			}
		}
	}
	return false
}

const quoteTriggers = "\"'\\\n\r\t\f\b%+ ;="

func quoteIfNeeded(b *strings.Builder, s string) {
	if s != "" && !strings.ContainsAny(s, quoteTriggers) {
		b.WriteString(s)
		return
	}

	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\f':
			b.WriteString(`\f`)
		case '\b':
			b.WriteString(`\b`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}
