package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	c := New(Options{Timeout: time.Second})

	tests := []struct {
		url     string
		wantErr string
	}{
		{url: "https://hooks.example.com/netpulse"},
		{url: "http://203.0.113.7:8080/hook"},
		{url: "ftp://example.com/x", wantErr: "scheme"},
		{url: "http://localhost:8080/hook", wantErr: "localhost"},
		{url: "http://api.localhost/hook", wantErr: "localhost"},
		{url: "http://10.1.2.3/hook", wantErr: "private"},
		{url: "http://192.168.0.10/hook", wantErr: "private"},
		{url: "http://[::1]/hook", wantErr: "private"},
		{url: "http://user:pw@example.com/hook", wantErr: "userinfo"},
		{url: "http:///nohost", wantErr: "hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := c.ValidateURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsBlockedAddr(t *testing.T) {
	for _, s := range []string{"127.0.0.1", "10.0.0.1", "172.20.1.1", "169.254.1.1", "fd00::1", "fe80::1", "::ffff:192.168.1.1"} {
		assert.True(t, IsBlockedAddr(netip.MustParseAddr(s)), s)
	}
	for _, s := range []string{"8.8.8.8", "203.0.113.1", "2606:4700::1111"} {
		assert.False(t, IsBlockedAddr(netip.MustParseAddr(s)), s)
	}
}

func TestDoBlocksLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = New(Options{Timeout: time.Second}).Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")

	resp, err := New(Options{Timeout: time.Second, AllowPrivate: true}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
