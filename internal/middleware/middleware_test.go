package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking/internal/config"
	"github.com/iliyamo/cinema-booking/internal/utils"
)

func whoami(c echo.Context) error {
	uid, _ := UserID(c)
	return c.JSON(http.StatusOK, echo.Map{"uid": uid, "role": Role(c)})
}

func serve(e *echo.Echo, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth("k"), RequireRole("ADMIN"))

	admin, err := utils.NewAccessToken("k", 5, "ADMIN", time.Minute)
	require.NoError(t, err)
	customer, err := utils.NewAccessToken("k", 6, "CUSTOMER", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(e, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "/me", "Bearer junk").Code)
	assert.Equal(t, http.StatusForbidden, serve(e, "/me", "Bearer "+customer.Token).Code)

	rec := serve(e, "/me", "Bearer "+admin.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"uid":5,"role":"ADMIN"}`, rec.Body.String())
}

func TestRequestLoggerLevels(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := echo.New()
	e.Use(RequestLogger(log))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError) })

	serve(e, "/ok", "")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, http.StatusNoContent, hook.LastEntry().Data["status"])

	rec := serve(e, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "/boom", hook.LastEntry().Data["path"])
}

func TestCacheKeySeparatesShowtimes(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "cache", KeyStrategy: "route"}
	key := func(path string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		c.SetPath("/v1/showtimes/:id/seats")
		return cacheKeyFrom(cfg, c)
	}
	assert.NotEqual(t, key("/v1/showtimes/1/seats"), key("/v1/showtimes/2/seats"))
	assert.Equal(t, key("/v1/showtimes/1/seats?x=1"), key("/v1/showtimes/1/seats?x=2"))

	cfg.KeyStrategy = "route_query"
	assert.NotEqual(t, key("/v1/showtimes/1/seats?x=1"), key("/v1/showtimes/1/seats?x=2"))
}

func TestCachePayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)

	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, hdr, got)
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload(bs[:5])
	assert.False(t, ok)
}

func TestDisabledMiddlewarePassThrough(t *testing.T) {
	log, _ := test.NewNullLogger()
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "x") },
		NewRedisCache(config.CacheConfig{Enabled: true}, nil, log),
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, log))

	rec := serve(e, "/x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestRateKeyStrategies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/bookings")

	assert.Equal(t, "rl:ip:10.0.0.1", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip"}, c))
	assert.Equal(t, "rl:user:anon", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}, c))

	c.Set(UserIDKey, uint64(9))
	assert.Equal(t, "rl:ip:10.0.0.1:user:9:route:POST /v1/bookings", buildRateKey(config.RateLimitConfig{Prefix: "rl"}, c))
}
