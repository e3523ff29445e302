package server

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/errors"
)

// fsClaims scopes a bearer token to one prefix of the blob store, issued
// by fs.authorize and checked by the /fs and /media HTTP routes so a
// client only ever gets a signed capability for the subtree it asked for.
type fsClaims struct {
	jwt.RegisteredClaims
	ConnID string `json:"connId"`
	Prefix string `json:"prefix"`
}

func defaultTokenExpiry() time.Duration {
	if s := am.GetString("auth.token_expiry"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return 15 * time.Minute
}

type fsAuthorizeParams struct {
	Prefix string `json:"prefix,omitempty"`
}

// handleFSAuthorize issues a short-lived signed bearer token scoping
// workspace blob access to the requesting connection and the prefix it
// asked for, per spec §4's fs/media authorization boundary.
func handleFSAuthorize(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p fsAuthorizeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidRequest
		}
	}

	secret := am.GetString("auth.jwt_secret")
	if secret == "" {
		return nil, NewGatewayError(CodeInternal, "no jwt secret configured for fs authorization")
	}

	expiry := defaultTokenExpiry()
	now := time.Now()
	claims := fsClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		ConnID: conn.ID,
		Prefix: p.Prefix,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign fs token")
	}

	return map[string]interface{}{
		"token":     signed,
		"expiresAt": claims.ExpiresAt.Time,
	}, nil
}

// verifyFSToken checks a bearer token presented to the /fs or /media HTTP
// routes and returns the prefix it's scoped to.
func verifyFSToken(tokenStr string) (*fsClaims, error) {
	secret := am.GetString("auth.jwt_secret")
	if secret == "" {
		return nil, errors.New("no jwt secret configured")
	}
	claims := &fsClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid fs token")
	}
	return claims, nil
}
