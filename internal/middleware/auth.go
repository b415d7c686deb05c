package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Auth validates identity provider bearer tokens and stores the subject in
// the request context. issuer and audience are enforced when non-empty.
func Auth(keys jwt.Keyfunc, issuer, audience string) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || strings.TrimSpace(tokenString) == "" {
				writeError(w, http.StatusUnauthorized, "authorization header required")
				return
			}

			claims := jwt.RegisteredClaims{}
			_, err := parser.ParseWithClaims(tokenString, &claims, keys)
			if err != nil {
				slog.Debug("token rejected", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.Subject)))
		})
	}
}

// NewJWKS loads the identity provider's JSON Web Key Set and refreshes it in
// the background every ttl until ctx is done. A failed refresh keeps the keys
// already loaded, and an unreachable endpoint at startup is logged rather than
// fatal so the portal can come up before the provider does.
func NewJWKS(ctx context.Context, url string, ttl time.Duration) (keyfunc.Keyfunc, error) {
	u, err := neturl.Parse(url)
	if err != nil {
		return nil, fmt.Errorf("jwks url: %w", err)
	}
	storage, err := jwkset.NewStorageFromHTTP(u, jwkset.HTTPClientStorageOptions{
		Ctx:                       ctx,
		HTTPTimeout:               10 * time.Second,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           ttl,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			slog.Warn("jwks refresh failed, keeping cached keys", "url", url, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks storage: %w", err)
	}

	client, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs: map[string]jwkset.Storage{url: storage},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks client: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: client})
	if err != nil {
		return nil, fmt.Errorf("jwks keyfunc: %w", err)
	}
	return k, nil
}
