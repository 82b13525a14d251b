// Package auth guards the steering surface.
//
// The only write operation the process exposes is the control command
// POST; every other ops route is read-only. Guard wraps the
// shared-token check for that single route.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

const bearerScheme = "Bearer "

// Guard authorizes control-command callers against one shared token,
// typically loaded from the [ops] config section. A Guard with no
// token is open and admits every caller.
type Guard struct {
	token string
}

func NewGuard(token string) Guard {
	return Guard{token: token}
}

// Open reports whether the guard admits unauthenticated callers.
func (g Guard) Open() bool { return g.token == "" }

// Authorize checks an Authorization header value against the shared
// token. The header must carry a bearer scheme; the token comparison
// is constant time.
func (g Guard) Authorize(header string) error {
	if g.Open() {
		return nil
	}
	if !strings.HasPrefix(header, bearerScheme) {
		return ErrUnauthorized
	}
	presented := strings.TrimSpace(header[len(bearerScheme):])
	if subtle.ConstantTimeCompare([]byte(g.token), []byte(presented)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
