package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const groupsClaim = "cognito:groups"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidClaims = errors.New("invalid claims")
)

// Verifier turns signed bearer tokens into identities.
type Verifier struct {
	secret     []byte
	issuer     string
	adminGroup string
}

// NewVerifier builds an HS256 verifier. adminGroup names the group that is mapped onto
// AdminGroup, so deployments may call their administrators something else.
func NewVerifier(secret, issuer, adminGroup string) *Verifier {
	if adminGroup == "" {
		adminGroup = AdminGroup
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, adminGroup: adminGroup}
}

func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidClaims
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if sub == "" || email == "" {
		return Identity{}, ErrInvalidClaims
	}

	return New(sub, email, v.mapGroups(parseGroups(claims[groupsClaim]))...), nil
}

// mapGroups renames the configured admin group to AdminGroup. When another name is
// configured, a literal AdminGroup claim is dropped so it cannot grant admin rights.
func (v *Verifier) mapGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		switch {
		case g == v.adminGroup:
			out = append(out, AdminGroup)
		case g == AdminGroup:
			continue
		default:
			out = append(out, g)
		}
	}
	return out
}

// parseGroups accepts a JSON array or a comma/space separated string.
func parseGroups(raw any) []string {
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	default:
		return nil
	}
}

// Sign issues a token for id. Used by tooling and tests; production tokens come from the identity provider.
func (v *Verifier) Sign(id Identity, claims jwt.MapClaims) (string, error) {
	all := jwt.MapClaims{
		"sub":       id.Subject,
		"email":     id.Email,
		groupsClaim: id.Groups(),
	}
	if v.issuer != "" {
		all["iss"] = v.issuer
	}
	for k, val := range claims {
		all[k] = val
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, all).SignedString(v.secret)
}
