package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	require.Failf(t, "cookie not set", "%s", name)
	return nil
}

func TestJar_SetState(t *testing.T) {
	for _, secure := range []bool{false, true} {
		rec := httptest.NewRecorder()
		NewJar(secure).SetState(rec, "abc")

		c := responseCookie(t, rec, StateName)
		assert.Equal(t, "abc", c.Value)
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, secure, c.Secure)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.Zero(t, c.MaxAge)
	}
}

func TestJar_SetToken(t *testing.T) {
	rec := httptest.NewRecorder()
	NewJar(true).SetToken(rec, "gho_abc")

	c := responseCookie(t, rec, TokenName)
	assert.Equal(t, "gho_abc", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
}

func TestJar_ClearState(t *testing.T) {
	rec := httptest.NewRecorder()
	NewJar(false).ClearState(rec)

	c := responseCookie(t, rec, StateName)
	assert.Empty(t, c.Value)
	assert.Equal(t, -1, c.MaxAge)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestJar_EncodesUnsafeBytes(t *testing.T) {
	const token = `tok;en "x\y,z+1%`

	rec := httptest.NewRecorder()
	NewJar(false).SetToken(rec, token)

	c := responseCookie(t, rec, TokenName)
	assert.NotContains(t, c.Value, ";")
	assert.NotContains(t, c.Value, `"`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)

	got, err := GetToken(req)
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestGet(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: TokenName, Value: "tok"})

		v, err := GetToken(req)
		require.NoError(t, err)
		assert.Equal(t, "tok", v)
	})

	t.Run("not percent-encoded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: TokenName, Value: "100%"})

		v, err := GetToken(req)
		require.NoError(t, err)
		assert.Equal(t, "100%", v)
	})

	t.Run("absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		_, err := GetState(req)
		assert.ErrorIs(t, err, ErrMissing)
	})

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Cookie", "state=")

		_, err := GetState(req)
		assert.ErrorIs(t, err, ErrMissing)
	})
}
