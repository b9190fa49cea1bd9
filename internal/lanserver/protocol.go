// Package lanserver implements C9, the LAN exchange endpoint: a minimal
// HTTP/1.1 server hand-parsed off raw net.Conn rather than net/http, per
// the interface's deliberately narrow surface (ping, export, import). The
// connection-handling idioms — bufio.Reader/Writer framing, a single
// SetDeadline per connection covering all its reads and writes, one goroutine per
// connection — are carried over from the corpus's own socket transport
// (internal/rpc/client.go), which frames newline-terminated JSON over a
// net.Conn the same deliberate way.
package lanserver

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/kbengine/kbengine/internal/kberrors"
)

// MaxHeaderBytes caps how much header data a connection may send before
// the server closes it, guarding against a slow-loris style request that
// never terminates its header block.
const MaxHeaderBytes = 256 * 1024

// request is a hand-parsed HTTP/1.1 request line + headers; the body (if
// any) is read separately once Content-Length is known, since this
// server never accepts chunked transfer-encoding.
type request struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers textproto.MIMEHeader
}

// readRequest parses the request line and headers from r, enforcing
// MaxHeaderBytes across the whole header block including the request
// line.
func readRequest(r *bufio.Reader) (*request, error) {
	limited := &limitedByteReader{r: r, remaining: MaxHeaderBytes}

	line, err := readLine(limited)
	if err != nil {
		return nil, fmt.Errorf("lanserver: read request line: %w", err)
	}
	method, path, rawQuery, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	headers := textproto.MIMEHeader{}
	for {
		hline, err := readLine(limited)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("lanserver: read headers: %w", err)
		}
		if hline == "" {
			break
		}
		k, v, _ := strings.Cut(hline, ":")
		headers.Add(textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(k)), strings.TrimSpace(v))
	}

	return &request{
		Method:  method,
		Path:    path,
		Query:   parseQuery(rawQuery),
		Headers: headers,
	}, nil
}

func parseRequestLine(line string) (method, path, rawQuery string, err error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("lanserver: malformed request line %q: %w", line, kberrors.Transport)
	}
	method = parts[0]
	target := parts[1]
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return "", "", "", fmt.Errorf("lanserver: unsupported protocol %q: %w", parts[2], kberrors.Transport)
	}
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		return method, target[:idx], target[idx+1:], nil
	}
	return method, target, "", nil
}

func parseQuery(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		out[k] = v
	}
	return out
}

// readLine reads one CRLF- or LF-terminated line, trimming the
// terminator.
func readLine(r io.Reader) (string, error) {
	br, ok := r.(*limitedByteReader)
	if !ok {
		return "", fmt.Errorf("lanserver: readLine requires a byte reader")
	}
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			s := sb.String()
			return strings.TrimSuffix(s, "\r"), nil
		}
		sb.WriteByte(b)
	}
}

// contentLength extracts and validates the Content-Length header, if
// present. Requests with no body (ping, export) simply omit it.
func contentLength(h textproto.MIMEHeader) (int64, bool, error) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("lanserver: invalid Content-Length %q: %w", v, kberrors.Transport)
	}
	return n, true, nil
}

// limitedByteReader wraps a *bufio.Reader, failing once more than
// `remaining` bytes have been read, to enforce MaxHeaderBytes across the
// whole header-reading phase of a connection.
type limitedByteReader struct {
	r         *bufio.Reader
	remaining int
}

func (l *limitedByteReader) ReadByte() (byte, error) {
	if l.remaining <= 0 {
		return 0, fmt.Errorf("lanserver: request header exceeds %d bytes: %w", MaxHeaderBytes, kberrors.Transport)
	}
	b, err := l.r.ReadByte()
	if err != nil {
		return 0, err
	}
	l.remaining--
	return b, nil
}

func (l *limitedByteReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, fmt.Errorf("lanserver: request header exceeds %d bytes: %w", MaxHeaderBytes, kberrors.Transport)
	}
	if len(p) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= n
	return n, err
}
