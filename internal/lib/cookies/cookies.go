package cookies

import (
	"net/http"
	"time"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// SetPair writes the session cookie pair on the response. Both cookies
// are HttpOnly, Secure and SameSite=Strict; max-age follows the token
// lifetime.
func SetPair(w http.ResponseWriter, accessToken, refreshToken string, accessTTL, refreshTTL time.Duration) {
	http.SetCookie(w, sessionCookie(AccessTokenCookie, accessToken, accessTTL))
	http.SetCookie(w, sessionCookie(RefreshTokenCookie, refreshToken, refreshTTL))
}

// ClearPair overwrites both session cookies with an elapsed expiry.
func ClearPair(w http.ResponseWriter) {
	http.SetCookie(w, expiredCookie(AccessTokenCookie))
	http.SetCookie(w, expiredCookie(RefreshTokenCookie))
}

// Pair reads the session cookies from the request. A missing cookie is
// returned as an empty string.
func Pair(r *http.Request) (accessToken, refreshToken string) {
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		accessToken = c.Value
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		refreshToken = c.Value
	}

	return accessToken, refreshToken
}

func sessionCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

func expiredCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}
