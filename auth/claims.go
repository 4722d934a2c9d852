package auth

import "github.com/golang-jwt/jwt/v5"

// ReaderClaims identifies the reader whose annotations, bookmarks and
// settings a request touches.
type ReaderClaims struct {
	jwt.RegisteredClaims
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}
