package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/phage/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestReadTokenPrefersCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(config.Config{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "cookie-token"})
	c.Request.Header.Set("Authorization", "Bearer header-token")

	token, ok := m.ReadToken(c)
	assert.True(t, ok)
	assert.Equal(t, "cookie-token", token)
}

func TestReadTokenBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(config.Config{})

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("Authorization", "bearer abc")

	token, ok := m.ReadToken(c)
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	c.Request.Header.Set("Authorization", "Basic abc")
	_, ok = m.ReadToken(c)
	assert.False(t, ok)
}
