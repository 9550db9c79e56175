// Package cookie writes and reads the handshake cookies.
package cookie

import (
	"errors"
	"net/http"
	"net/url"
)

// Cookie names used by the handshake.
const (
	StateName = "state"
	TokenName = "token"
)

// ErrMissing is returned when a cookie is absent or empty.
var ErrMissing = errors.New("cookie missing")

// Jar sets handshake cookies with a fixed security policy. Secure is decided
// once at startup from the environment.
type Jar struct {
	secure bool
}

// NewJar creates a Jar. Cookies carry the Secure attribute only when secure
// is true.
func NewJar(secure bool) *Jar {
	return &Jar{secure: secure}
}

// Secure reports whether cookies are marked Secure.
func (j *Jar) Secure() bool {
	return j.secure
}

// set percent-encodes value so bytes net/http would drop from a cookie
// survive the round trip.
func (j *Jar) set(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		Path:     "/",
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	})
}

// SetState sets the CSRF state cookie for the current browser session.
func (j *Jar) SetState(w http.ResponseWriter, value string) {
	j.set(w, StateName, value, 0)
}

// SetToken stores the access token for the current browser session.
func (j *Jar) SetToken(w http.ResponseWriter, value string) {
	j.set(w, TokenName, value, 0)
}

// ClearState expires the state cookie so a state is consumed only once.
func (j *Jar) ClearState(w http.ResponseWriter) {
	j.set(w, StateName, "", -1)
}

// Get retrieves and decodes a cookie value from the request. Absent and
// empty cookies both yield ErrMissing. Values that are not valid
// percent-encoding are returned as sent.
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", ErrMissing
	}
	if v, err := url.QueryUnescape(c.Value); err == nil {
		return v, nil
	}
	return c.Value, nil
}

// GetState retrieves the state cookie value.
func GetState(r *http.Request) (string, error) {
	return Get(r, StateName)
}

// GetToken retrieves the token cookie value.
func GetToken(r *http.Request) (string, error) {
	return Get(r, TokenName)
}
