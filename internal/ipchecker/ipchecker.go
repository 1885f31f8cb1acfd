// Package ipchecker restricts internal endpoints to a trusted subnet and
// extracts client addresses for rate limiting.
//
// Forwarding headers (X-Forwarded-For, X-Real-IP) are honoured only when the
// TCP peer belongs to one of the trusted proxy networks. Any other peer is
// identified by its own address.
package ipchecker

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/patric-chuzhbe/tokenshrt/internal/models"
)

type IPChecker struct {
	trustedSubnet  *net.IPNet
	trustedProxies []*net.IPNet
}

// New parses trustedSubnet and trustedProxies in CIDR notation
// ("192.168.1.0/24"). An empty trustedSubnet yields a checker that trusts
// nobody; an empty trustedProxies list ignores forwarding headers entirely.
func New(trustedSubnet string, trustedProxies []string) (*IPChecker, error) {
	checker := &IPChecker{}

	if trustedSubnet != "" {
		_, allowedNet, err := net.ParseCIDR(trustedSubnet)
		if err != nil {
			return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w", err)
		}
		checker.trustedSubnet = allowedNet
	}

	for _, cidr := range trustedProxies {
		_, proxyNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling for proxy %q: %w", cidr, err)
		}
		checker.trustedProxies = append(checker.trustedProxies, proxyNet)
	}

	return checker, nil
}

// Check reports whether clientIP belongs to the trusted subnet.
func (checker *IPChecker) Check(clientIP net.IP) bool {
	return checker.trustedSubnet != nil && clientIP != nil && checker.trustedSubnet.Contains(clientIP)
}

func (checker *IPChecker) isTrustedProxy(ip net.IP) bool {
	for _, proxyNet := range checker.trustedProxies {
		if proxyNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client. For a peer that is not a
// trusted proxy this is RemoteAddr. Behind trusted proxies X-Forwarded-For is
// walked right to left and the first hop that is not a trusted proxy wins;
// X-Real-IP is used when X-Forwarded-For is absent.
func (checker *IPChecker) ClientIP(request *http.Request) (net.IP, error) {
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/ClientIP(): error while `net.SplitHostPort()` calling: %w", err)
	}
	peer := net.ParseIP(host)
	if peer == nil || !checker.isTrustedProxy(peer) {
		return peer, nil
	}

	if xff := request.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		var leftmost net.IP
		for i := len(hops) - 1; i >= 0; i-- {
			hop := net.ParseIP(strings.TrimSpace(hops[i]))
			if hop == nil {
				// everything left of a malformed entry is client-controlled
				break
			}
			leftmost = hop
			if !checker.isTrustedProxy(hop) {
				return hop, nil
			}
		}
		if leftmost != nil {
			return leftmost, nil
		}
	}

	if ip := net.ParseIP(strings.TrimSpace(request.Header.Get("X-Real-IP"))); ip != nil {
		return ip, nil
	}

	return peer, nil
}

// ClientKey is ClientIP rendered as a string, falling back to RemoteAddr.
func (checker *IPChecker) ClientKey(request *http.Request) string {
	ip, err := checker.ClientIP(request)
	if err != nil || ip == nil {
		return request.RemoteAddr
	}
	return ip.String()
}

// TrustedOnly answers 403 to clients outside the trusted subnet.
func (checker *IPChecker) TrustedOnly(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		ip, err := checker.ClientIP(request)
		if err != nil || !checker.Check(ip) {
			response.Header().Set("Content-Type", "application/json")
			response.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(response).Encode(models.ErrorResponse{Detail: "forbidden"})
			return
		}

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}
