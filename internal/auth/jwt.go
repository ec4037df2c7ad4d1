package auth

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RendererClaims represents the claims in a renderer bridge token.
type RendererClaims struct {
	RendererID string `json:"renderer_id"`
	jwt.RegisteredClaims
}

const tokenTTL = 24 * time.Hour

// Secret returns the bridge signing key. An empty BRIDGE_JWT_SECRET means
// local development; a fixed fallback keeps single-machine setups working.
func Secret() []byte {
	if s := os.Getenv("BRIDGE_JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("aituber-link-dev-secret")
}

// GenerateRendererToken signs a token the renderer presents when opening
// the bridge websocket.
func GenerateRendererToken(rendererID string) (string, error) {
	claims := &RendererClaims{
		RendererID: rendererID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(Secret())
}

// ValidateToken validates a renderer token and returns its claims.
func ValidateToken(tokenString string) (*RendererClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RendererClaims{}, func(token *jwt.Token) (interface{}, error) {
		return Secret(), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*RendererClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrInvalidKey
}
