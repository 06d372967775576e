package auth

import (
	"fmt"
	"net/http"
	"strings"

	"ad-engagement-service/internal/domain"
	"github.com/golang-jwt/jwt/v4"
)

// Verifier turns a bearer token into a Viewer. With an empty secret the token
// is only decoded; the backend that receives it remains the authority.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Viewer parses the token and returns its subject as the viewer id.
func (v *Verifier) Viewer(token string) (domain.Viewer, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Viewer{}, domain.ErrUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	var err error
	if len(v.secret) == 0 {
		_, _, err = jwt.NewParser().ParseUnverified(token, claims)
		if err == nil {
			err = claims.Valid()
		}
	} else {
		_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		})
	}
	if err != nil {
		return domain.Viewer{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return domain.Viewer{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}
	return domain.Viewer{ID: claims.Subject, Token: token}, nil
}

// FromRequest reads the token from the Authorization header, falling back to
// the token query parameter for WebSocket clients that cannot set headers.
func (v *Verifier) FromRequest(r *http.Request) (domain.Viewer, error) {
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return v.Viewer(token)
}
