package ipchecker

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proxyNet = "172.16.0.0/12"

func TestNew(t *testing.T) {
	_, err := New("not-a-cidr", nil)
	assert.Error(t, err)

	_, err = New("", []string{"10.0.0.1"})
	assert.Error(t, err)

	checker, err := New("", nil)
	require.NoError(t, err)
	assert.False(t, checker.Check(net.ParseIP("127.0.0.1")), "an empty subnet trusts nobody")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		realIP     string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{name: "untrusted peer ignores x-real-ip", realIP: "10.0.0.7", remoteAddr: "203.0.113.5:5", want: "203.0.113.5"},
		{name: "untrusted peer ignores forwarded", forwarded: "10.0.0.8", remoteAddr: "203.0.113.5:5", want: "203.0.113.5"},
		{name: "proxy forwarded client", forwarded: "198.51.100.7", remoteAddr: "172.16.0.2:5", want: "198.51.100.7"},
		{name: "proxy chain skips trusted hops", forwarded: "10.9.9.9, 198.51.100.7, 172.16.0.3", remoteAddr: "172.16.0.2:5", want: "198.51.100.7"},
		{name: "all hops trusted", forwarded: "172.16.0.4, 172.16.0.3", remoteAddr: "172.16.0.2:5", want: "172.16.0.4"},
		{name: "proxy x-real-ip", realIP: "198.51.100.9", remoteAddr: "172.16.0.2:5", want: "198.51.100.9"},
		{name: "proxy garbage headers fall through", realIP: "nope", forwarded: "nope", remoteAddr: "172.16.0.2:5", want: "172.16.0.2"},
	}
	checker, err := New("", []string{proxyNet})
	require.NoError(t, err)

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/", nil)
			request.RemoteAddr = test.remoteAddr
			if test.realIP != "" {
				request.Header.Set("X-Real-IP", test.realIP)
			}
			if test.forwarded != "" {
				request.Header.Set("X-Forwarded-For", test.forwarded)
			}

			ip, err := checker.ClientIP(request)
			require.NoError(t, err)
			assert.Equal(t, test.want, ip.String())
			assert.Equal(t, test.want, checker.ClientKey(request))
		})
	}
}

func TestTrustedOnly(t *testing.T) {
	checker, err := New("10.0.0.0/8", []string{proxyNet})
	require.NoError(t, err)

	h := checker.TrustedOnly(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(remoteAddr, realIP string) int {
		request := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
		request.RemoteAddr = remoteAddr
		request.Header.Set("X-Real-IP", realIP)
		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, request)
		return recorder.Code
	}

	assert.Equal(t, http.StatusOK, serve("10.0.0.5:4000", ""), "direct peer inside the subnet")
	assert.Equal(t, http.StatusOK, serve("172.16.0.2:4000", "10.0.0.1"), "client behind a trusted proxy")
	assert.Equal(t, http.StatusForbidden, serve("172.16.0.2:4000", "203.0.113.5"))
	assert.Equal(t, http.StatusForbidden, serve("203.0.113.5:4000", "10.0.0.1"), "spoofed header from an outside peer")
}
