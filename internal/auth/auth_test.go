package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, secret string) (*Manager, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewManager(config.Config{AuthJWTSecret: secret}, clk), clk
}

func TestIssueAndVerify(t *testing.T) {
	mgr, _ := newManager(t, "test-secret")
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	memberID := node.Generate()

	token, err := mgr.Issue(memberID, true, time.Hour)
	require.NoError(t, err)

	claims, err := mgr.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, memberID, claims.MemberIDValue())
	assert.True(t, claims.Admin)
}

func TestVerifyExpiredToken(t *testing.T) {
	mgr, clk := newManager(t, "test-secret")
	node, _ := snowflake.NewNode(1)

	token, err := mgr.Issue(node.Generate(), false, time.Hour)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = mgr.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	mgr, _ := newManager(t, "test-secret")
	other, _ := newManager(t, "other-secret")
	node, _ := snowflake.NewNode(1)

	token, err := mgr.Issue(node.Generate(), false, time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManagerWithoutSecret(t *testing.T) {
	mgr, _ := newManager(t, "")
	node, _ := snowflake.NewNode(1)

	_, err := mgr.Issue(node.Generate(), false, time.Hour)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = mgr.Verify("whatever")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr, _ := newManager(t, "test-secret")
	node, _ := snowflake.NewNode(1)
	memberID := node.Generate()

	r := gin.New()
	r.GET("/me", Middleware(mgr), func(c *gin.Context) {
		id, ok := MemberIDFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"member_id": id.String()})
	})
	r.GET("/admin", Middleware(mgr), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	memberToken, err := mgr.Issue(memberID, false, time.Hour)
	require.NoError(t, err)
	adminToken, err := mgr.Issue(memberID, true, time.Hour)
	require.NoError(t, err)

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "garbage").Code)
	assert.Equal(t, http.StatusOK, do("/me", memberToken).Code)
	assert.Contains(t, do("/me", memberToken).Body.String(), memberID.String())

	assert.Equal(t, http.StatusForbidden, do("/admin", memberToken).Code)
	assert.Equal(t, http.StatusNoContent, do("/admin", adminToken).Code)
}
