// Package netx holds HTTP helpers for the client's WebSocket handshake.
package netx

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/printrelay/internal/common"
)

// BearerHeader returns handshake headers carrying token as a bearer
// credential.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set(common.AuthorizationHeaderName, "Bearer "+token)
	}
	return h
}

// WithQuery returns rawURL with key set to value in its query string.
func WithQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HandshakeError describes a failed upgrade response. 401 and 403 wrap
// common.ErrAuthRejected so callers can stop reconnecting.
func HandshakeError(resp *http.Response) error {
	if resp == nil {
		return nil
	}

	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s; body: %s", common.ErrAuthRejected, resp.Status, string(body))
	}
	return fmt.Errorf("handshake failed: %s; body: %s", resp.Status, string(body))
}
