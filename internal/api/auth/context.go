package auth

import (
	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	TenantContextKey ContextKey = "tenant_id"
	UserContextKey   ContextKey = "user_id"
	LangContextKey   ContextKey = "lang"
)

// TenantID returns the tenant resolved by RequireAuth, or 0
func TenantID(c echo.Context) int64 {
	id, _ := c.Get(string(TenantContextKey)).(int64)
	return id
}

// UserID returns the user resolved by RequireAuth
func UserID(c echo.Context) string {
	id, _ := c.Get(string(UserContextKey)).(string)
	return id
}

// Lang returns the preferred message language: the token's, then Accept-Language
func Lang(c echo.Context) string {
	if lang, _ := c.Get(string(LangContextKey)).(string); lang != "" {
		return lang
	}
	return c.Request().Header.Get("Accept-Language")
}
