package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSConfig configures the JWKS-based token validator.
type JWKSConfig struct {
	// JWKSURL is the URL of the JSON Web Key Set endpoint. (Required)
	JWKSURL string
	// ExpectedIssuer is the required 'iss' claim value. (Optional)
	ExpectedIssuer string
	// ExpectedAudience is the required 'aud' claim value. (Optional)
	ExpectedAudience string
	// ClockSkew is the acceptable drift when validating 'exp' and 'nbf'.
	ClockSkew time.Duration
	// RefreshInterval is how often to refresh the key set. Defaults to 1 hour.
	RefreshInterval time.Duration
}

// JWKSTokenValidator validates JWTs signed by keys published at a JWKS
// endpoint, caching the key set with automatic refresh.
type JWKSTokenValidator struct {
	config   JWKSConfig
	jwkCache *jwk.Cache
}

// NewJWKSTokenValidator creates a new validator and performs the initial key
// set fetch.
func NewJWKSTokenValidator(config JWKSConfig, client *http.Client) (*JWKSTokenValidator, error) {
	if config.JWKSURL == "" {
		return nil, fmt.Errorf("JWKSURL is required in JWKSConfig")
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = time.Hour
	}
	if client == nil {
		client = http.DefaultClient
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(config.JWKSURL,
		jwk.WithMinRefreshInterval(config.RefreshInterval),
		jwk.WithHTTPClient(client)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL %s: %w", config.JWKSURL, err)
	}
	if _, err := cache.Refresh(context.Background(), config.JWKSURL); err != nil {
		return nil, fmt.Errorf("initial JWKS fetch from %s failed: %w", config.JWKSURL, err)
	}

	return &JWKSTokenValidator{config: config, jwkCache: cache}, nil
}

// ValidateToken implements TokenValidator.
func (v *JWKSTokenValidator) ValidateToken(ctx context.Context, tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{}
	if v.config.ExpectedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.ExpectedIssuer))
	}
	if v.config.ExpectedAudience != "" {
		opts = append(opts, jwt.WithAudience(v.config.ExpectedAudience))
	}
	if v.config.ClockSkew > 0 {
		opts = append(opts, jwt.WithLeeway(v.config.ClockSkew))
	}

	token, err := jwt.Parse(tokenString, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token format or signature: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	return &jwtPrincipal{claims: claims}, nil
}

// keyFunc fetches the verification key for a token from the JWKS cache,
// refreshing once when the kid is unknown in case the key set rotated.
func (v *JWKSTokenValidator) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("JWT header missing 'kid' field")
	}

	keySet, err := v.jwkCache.Get(context.Background(), v.config.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWK set for %s: %w", v.config.JWKSURL, err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		if _, err := v.jwkCache.Refresh(context.Background(), v.config.JWKSURL); err != nil {
			return nil, fmt.Errorf("key %q not found in JWKS at %s", kid, v.config.JWKSURL)
		}
		keySet, err = v.jwkCache.Get(context.Background(), v.config.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWK set after refresh: %w", err)
		}
		key, found = keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key %q not found in JWKS at %s after refresh", kid, v.config.JWKSURL)
		}
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return nil, fmt.Errorf("failed to extract raw key material for %q: %w", kid, err)
	}
	return rawKey, nil
}

var _ TokenValidator = (*JWKSTokenValidator)(nil)
