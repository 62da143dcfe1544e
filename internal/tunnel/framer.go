package tunnel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/die-net/wsconnect/internal/httpparse"
)

// Framer turns a byte stream into one complete proxy response: first the
// header block, then a Content-Length body that is skipped, never
// inspected. Draining the body keeps the stream aligned for the next
// CONNECT attempt or for the upgraded WebSocket traffic.
type Framer struct {
	resp   *Response
	parser *httpparse.Parser

	parsingBody bool
	remaining   int64
}

// NewFramer returns a Framer that fills resp.
func NewFramer(resp *Response) *Framer {
	return &Framer{resp: resp, parser: httpparse.NewParser(resp)}
}

// Feed consumes b. Once the header block and the declared body have been
// consumed it returns the response and how many bytes of b belonged to it;
// any bytes past that boundary are left for the caller. Until then it
// returns a nil response and len(b).
func (f *Framer) Feed(b []byte) (*Response, int, error) {
	if f.parsingBody {
		if f.remaining <= 0 {
			return f.resp, 0, nil
		}
		take := min(int64(len(b)), f.remaining)
		f.remaining -= take
		if f.remaining > 0 {
			return nil, len(b), nil
		}
		return f.resp, int(take), nil
	}

	done, err := f.parser.Parse(b)
	if err != nil {
		return nil, 0, err
	}
	if !done {
		return nil, len(b), nil
	}

	length, err := f.bodyLength()
	if err != nil {
		return nil, 0, err
	}

	rest := f.resp.Remaining
	f.resp.Remaining = nil
	f.parsingBody = true

	body := min(int64(len(rest)), length)
	f.remaining = length - body
	if f.remaining > 0 {
		return nil, len(b), nil
	}
	return f.resp, len(b) - len(rest) + int(body), nil
}

func (f *Framer) bodyLength() (int64, error) {
	if te := f.resp.Values("Transfer-Encoding"); len(te) > 0 && !f.resp.hasToken("Transfer-Encoding", "identity") {
		// The tunnel starts right after the headers of a successful
		// response; anything else can't be delimited without decoding it.
		if f.resp.StatusCode/100 != 2 {
			f.resp.Unframed = true
		}
		return 0, nil
	}

	values := f.resp.Values("Content-Length")
	if len(values) == 0 {
		return 0, nil
	}

	var length int64 = -1
	for _, v := range values {
		for elem := range strings.SplitSeq(v, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(elem), 10, 64)
			if err != nil || n < 0 {
				return 0, fmt.Errorf("invalid Content-Length %q", v)
			}
			if length >= 0 && n != length {
				return 0, fmt.Errorf("conflicting Content-Length values %q", values)
			}
			length = n
		}
	}
	return length, nil
}
