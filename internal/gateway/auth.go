package gateway

import (
	"crypto/subtle"
	"net"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/soyeahso/voxlink/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "none" | "token" | "password"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the effective gateway credentials.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth resolves credentials from config, then the environment.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Token == "" {
		auth.Token = os.Getenv("VOXLINK_GATEWAY_TOKEN")
	}
	if auth.Password == "" {
		auth.Password = os.Getenv("VOXLINK_GATEWAY_PASSWORD")
	}
	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = "password"
		} else {
			auth.Mode = "token"
		}
	}
	return auth
}

// Authorize checks client credentials against the server's.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if serverAuth.Mode == "none" {
		return AuthResult{OK: true, Method: "none"}
	}
	if clientAuth == nil {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}

	switch serverAuth.Mode {
	case "token":
		if serverAuth.Token == "" {
			return AuthResult{OK: false, Reason: "server token not configured"}
		}
		if clientAuth.Token == "" {
			return AuthResult{OK: false, Reason: "token required"}
		}
		if !safeEqual(clientAuth.Token, serverAuth.Token) {
			return AuthResult{OK: false, Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: "token"}

	case "password":
		if serverAuth.Password == "" {
			return AuthResult{OK: false, Reason: "server password not configured"}
		}
		if clientAuth.Password == "" {
			return AuthResult{OK: false, Reason: "password required"}
		}
		if !safeEqual(clientAuth.Password, serverAuth.Password) {
			return AuthResult{OK: false, Reason: "password_mismatch"}
		}
		return AuthResult{OK: true, Method: "password"}

	default:
		return AuthResult{OK: false, Reason: "unknown auth mode: " + serverAuth.Mode}
	}
}

// safeEqual compares in constant time without leaking the secret length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authLimiter bounds failed handshakes per remote host. Each host gets a
// token bucket refilled over authRateWindow; idle hosts expire.
type authLimiter struct {
	hosts *cache.Cache
}

func newAuthLimiter() *authLimiter {
	return &authLimiter{hosts: cache.New(authRateWindow, time.Minute)}
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

func (l *authLimiter) allow(remoteAddr string) bool {
	v, ok := l.hosts.Get(hostOf(remoteAddr))
	if !ok {
		return true
	}
	return v.(*rate.Limiter).Tokens() >= 1
}

func (l *authLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	v, ok := l.hosts.Get(host)
	if !ok {
		if l.hosts.ItemCount() >= authRateMaxIPs {
			l.hosts.DeleteExpired()
			if l.hosts.ItemCount() >= authRateMaxIPs {
				return
			}
		}
		v = rate.NewLimiter(rate.Every(authRateWindow/authRateMaxFails), authRateMaxFails)
	}
	lim := v.(*rate.Limiter)
	lim.Allow()
	l.hosts.Set(host, lim, cache.DefaultExpiration)
}
