package handshake

import (
	"regexp"
	"strings"
	"time"
)

// httpStatusLineRE matches an HTTP/1.x 2xx status line, the only
// successful response to a CONNECT request (RFC 9110 §9.3.6).
var httpStatusLineRE = regexp.MustCompile(`^HTTP/1\.\d 2\d\d .*`)

func httpStatusLineOK(line string) bool {
	return httpStatusLineRE.MatchString(trimCRLF(line))
}

func trimCRLF(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func endpointDefaultDeadline() time.Time {
	return time.Now().Add(30 * time.Second)
}

func noDeadline() time.Time {
	return time.Time{}
}
