package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	ts := NewTokenService("secret")
	token, exp, err := ts.Issue(7, "u-1", "en")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := ts.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.TenantID)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "en", claims.Lang)

	_, err = NewTokenService("other").ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = ts.Issue(0, "", "")
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestExpiredToken(t *testing.T) {
	ts := NewTokenService("secret")
	ts.now = func() time.Time { return time.Now().Add(-24 * time.Hour) }
	token, _, err := ts.Issue(7, "", "")
	require.NoError(t, err)

	_, err = NewTokenService("secret").ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireAuth(t *testing.T) {
	ts := NewTokenService("secret")
	token, _, err := ts.Issue(42, "u-9", "de")
	require.NoError(t, err)

	e := echo.New()
	handler := RequireAuth(ts)(func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"tenant": TenantID(c), "user": UserID(c), "lang": Lang(c)})
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			err := handler(c)
			if tc.status == http.StatusOK {
				require.NoError(t, err)
				assert.JSONEq(t, `{"tenant":42,"user":"u-9","lang":"de"}`, rec.Body.String())
				return
			}
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tc.status, he.Code)
		})
	}
}
