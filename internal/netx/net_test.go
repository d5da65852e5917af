package netx

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerHeader(t *testing.T) {
	h := BearerHeader("abc")
	assert.Equal(t, "Bearer abc", h.Get(common.AuthorizationHeaderName))

	assert.Empty(t, BearerHeader("").Get(common.AuthorizationHeaderName))
}

func TestWithQuery(t *testing.T) {
	got, err := WithQuery("ws://localhost:5553/ws?x=1", common.TokenQueryParam, "t k")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:5553/ws?token=t+k&x=1", got)

	_, err = WithQuery("://bad", "k", "v")
	require.Error(t, err)
}

func TestHandshakeError(t *testing.T) {
	t.Run("nil response", func(t *testing.T) {
		require.NoError(t, HandshakeError(nil))
	})

	t.Run("unauthorized", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusUnauthorized,
			Status:     "401 Unauthorized",
			Body:       io.NopCloser(strings.NewReader("invalid token")),
		}
		err := HandshakeError(resp)
		require.True(t, errors.Is(err, common.ErrAuthRejected))
		assert.Contains(t, err.Error(), "invalid token")
	})

	t.Run("other status", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		resp, err := http.Get(ts.URL)
		require.NoError(t, err)

		err = HandshakeError(resp)
		require.Error(t, err)
		assert.False(t, errors.Is(err, common.ErrAuthRejected))
		assert.Contains(t, err.Error(), "handshake failed: 503")
	})
}
