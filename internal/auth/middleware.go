package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Claims is the part of a staff token the service reads.
type Claims struct {
	Sub         string `json:"sub"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// TokenVerifier checks a raw bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *oidcVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return &claims, nil
}

// NewOIDCVerifier discovers the issuer's keys. Without a client ID the
// audience check is skipped, since staff tokens come from several clients.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	return &oidcVerifier{verifier: provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	})}, nil
}

// NewStaticVerifier verifies against a fixed key set, without discovery.
func NewStaticVerifier(issuer string, keys oidc.KeySet, clientID string) TokenVerifier {
	return &oidcVerifier{verifier: oidc.NewVerifier(issuer, keys, &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	})}
}

type Authenticator struct {
	Verifier  TokenVerifier
	StaffRole string
	logger    *logger.Logger
}

func NewAuthenticator(verifier TokenVerifier, staffRole string, log *logger.Logger) *Authenticator {
	return &Authenticator{Verifier: verifier, StaffRole: staffRole, logger: log}
}

// FromConfig builds the staff authenticator. An empty issuer yields an
// authenticator that lets every request through.
func FromConfig(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (*Authenticator, error) {
	if cfg.OIDCIssuer == "" {
		log.Warn("AUTH", "OIDC_ISSUER not set, staff routes are unauthenticated")
		return NewAuthenticator(nil, "", log), nil
	}
	verifier, err := NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
	if err != nil {
		return nil, err
	}
	return NewAuthenticator(verifier, cfg.StaffRole, log), nil
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if a.Verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, err := bearerToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := a.Verifier.Verify(r.Context(), rawToken)
		if err != nil {
			a.logger.LogSecurity("TOKEN_REJECTED", err.Error())
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if a.StaffRole != "" && !slices.Contains(claims.RealmAccess.Roles, a.StaffRole) {
			a.logger.LogSecurity("ROLE_MISSING", fmt.Sprintf("user %s lacks role %s", claims.Sub, a.StaffRole))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.Sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return parts[1], nil
}

// UserID returns the authenticated staff member, or "" on open routes.
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}
