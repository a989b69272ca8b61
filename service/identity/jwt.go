package identity

import (
	"context"
	"strings"

	"PRelay/tools/errs"
	"PRelay/tools/security"
)

// JWTGateway verifies HMAC-signed tokens locally and delegates friend and
// channel lookups to the wrapped gateway with the same bearer token.
type JWTGateway struct {
	Gateway
	opts security.Options
}

func NewJWTGateway(next Gateway, opts security.Options) *JWTGateway {
	return &JWTGateway{Gateway: next, opts: opts}
}

func (g *JWTGateway) Verify(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errs.ErrMissingToken.Wrap()
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.ErrInvalidToken.WrapMsg("canceled", "err", err)
	}
	claims, err := security.Verify(g.opts, token)
	if err != nil {
		return nil, errs.ErrInvalidToken.WrapMsg("jwt", "err", err)
	}
	sub := claims.Subject()
	if sub == "" {
		return nil, errs.ErrMalformedResponse.WrapMsg("jwt has no sub")
	}
	return &User{
		ID:       sub,
		Username: claims.StringClaim("username", "name"),
		Token:    token,
	}, nil
}
