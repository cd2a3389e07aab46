package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HMACConfig configures the shared-secret token validator.
type HMACConfig struct {
	// Secret is the HMAC signing secret. (Required)
	Secret []byte
	// ExpectedIssuer is the required 'iss' claim value. (Optional)
	ExpectedIssuer string
	// ExpectedAudience is the required 'aud' claim value. (Optional)
	ExpectedAudience string
}

// HMACTokenValidator validates HS256-signed JWTs against a shared secret.
// It suits single-operator deployments where a JWKS endpoint is overkill.
type HMACTokenValidator struct {
	config HMACConfig
}

// NewHMACTokenValidator creates a new shared-secret validator.
func NewHMACTokenValidator(config HMACConfig) (*HMACTokenValidator, error) {
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("secret is required in HMACConfig")
	}
	return &HMACTokenValidator{config: config}, nil
}

type jwtPrincipal struct {
	claims jwt.MapClaims
}

func (p *jwtPrincipal) Subject() string {
	sub, _ := p.claims.GetSubject()
	return sub
}

func (p *jwtPrincipal) Claims() interface{} { return p.claims }

// ValidateToken implements TokenValidator.
func (v *HMACTokenValidator) ValidateToken(ctx context.Context, tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.config.ExpectedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.ExpectedIssuer))
	}
	if v.config.ExpectedAudience != "" {
		opts = append(opts, jwt.WithAudience(v.config.ExpectedAudience))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return v.config.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	return &jwtPrincipal{claims: claims}, nil
}

var _ TokenValidator = (*HMACTokenValidator)(nil)
