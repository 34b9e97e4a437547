package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "schemerge",
		Audience:      "schemerge-document",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesDocumentTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssueDocumentToken(context.Background(), "board.kicad_sch")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "board.kicad_sch" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "schemerge" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "schemerge-document" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}

	if _, _, err := issuer.IssueDocumentToken(context.Background(), " "); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  TokenIssuerConfig
		want error
	}{
		{name: "missing-secret", cfg: TokenIssuerConfig{Issuer: "schemerge", Audience: "doc"}, want: ErrMissingSigningSecret},
		{name: "missing-issuer", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Audience: "doc"}, want: ErrMissingIssuer},
		{name: "blank-audience", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "schemerge", Audience: " "}, want: ErrMissingAudience},
		{name: "negative-ttl", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "schemerge", Audience: "doc", TokenTTL: -time.Second}, want: ErrInvalidTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	now := time.Unix(1760000000, 0)
	issuer := newTestIssuer(t, func() time.Time { return now })

	tokenString, _, err := issuer.IssueDocumentToken(context.Background(), "board.kicad_sch")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != "board.kicad_sch" {
		t.Fatalf("unexpected subject %s", subject)
	}

	if _, err := issuer.ValidateToken("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if _, err := issuer.ValidateToken(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}

	other, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("super-secret"), Issuer: "schemerge", Audience: "other"})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := other.ValidateToken(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience mismatch to fail, got %v", err)
	}

	now = now.Add(time.Hour)
	if _, err := issuer.ValidateToken(tokenString); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestValidateRequestReadsBearerOrCookie(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	tokenString, _, err := issuer.IssueDocumentToken(context.Background(), "board.kicad_sch")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	bearer := httptest.NewRequest(http.MethodPost, "/apply", nil)
	bearer.Header.Set("Authorization", "Bearer "+tokenString)
	if subject, err := issuer.ValidateRequest(bearer); err != nil || subject != "board.kicad_sch" {
		t.Fatalf("expected bearer token to validate, got %q %v", subject, err)
	}

	cookie := httptest.NewRequest(http.MethodPost, "/apply", nil)
	cookie.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tokenString})
	if subject, err := issuer.ValidateRequest(cookie); err != nil || subject != "board.kicad_sch" {
		t.Fatalf("expected cookie token to validate, got %q %v", subject, err)
	}

	missing := httptest.NewRequest(http.MethodPost, "/apply", nil)
	if _, err := issuer.ValidateRequest(missing); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if _, err := issuer.ValidateRequest(nil); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error for nil request, got %v", err)
	}
}
