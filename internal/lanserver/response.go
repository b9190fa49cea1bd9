package lanserver

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// writeStatus writes a minimal HTTP/1.1 status line + headers + body,
// always closing the connection afterward (this server does not support
// keep-alive; one request per accepted connection keeps the hand-rolled
// parser simple and matches the endpoint's LAN-only, low-concurrency use
// case).
func writeStatus(w *bufio.Writer, status int, reason string, headers map[string]string, body io.Reader, bodyLen int64) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, reason); err != nil {
		return err
	}
	headers["Connection"] = "close"
	if bodyLen >= 0 {
		headers["Content-Length"] = fmt.Sprintf("%d", bodyLen)
	}
	for k, v := range headers {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	if body != nil {
		if _, err := io.Copy(w, body); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeJSONError(w *bufio.Writer, status int, reason, message string) error {
	body := fmt.Sprintf(`{"error":%q}`, message)
	return writeStatus(w, status, reason, map[string]string{"Content-Type": "application/json"},
		strings.NewReader(body), int64(len(body)))
}
