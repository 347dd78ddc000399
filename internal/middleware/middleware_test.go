package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"community-chat/internal/auth"
	"community-chat/internal/mocks"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(UserIDKey, int64(1))
		c.Next()
	})
	r.Use(handlers...)
	r.POST("/ok", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/fail", func(c *gin.Context) { c.Status(http.StatusUnprocessableEntity) })
	return r
}

func serve(r http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	validator := new(mocks.ValidatorMock)
	validator.On("ValidateToken", mock.Anything, "good").Return(int64(42), nil)
	validator.On("ValidateToken", mock.Anything, "bad").Return(int64(0), auth.ErrInvalidToken)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(validator))
	r.POST("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt64(UserIDKey)})
	})

	rec := serve(r, "/ok", http.Header{"Authorization": {"Bearer good"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":42}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/ok", http.Header{"Authorization": {"Bearer bad"}}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/ok", http.Header{"Authorization": {"Basic abc"}}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/ok", nil).Code)
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	limiter := new(mocks.LimiterMock)
	limiter.On("Allow", mock.Anything, "send:1", int64(2), time.Minute).Return(true, int64(1), nil).Once()
	limiter.On("Allow", mock.Anything, "send:1", int64(2), time.Minute).Return(false, int64(3), nil).Once()
	r := newRouter(RateLimit(limiter, "send", 2, time.Minute))

	assert.Equal(t, http.StatusCreated, serve(r, "/ok", nil).Code)
	rec := serve(r, "/ok", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	limiter.AssertExpectations(t)
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := new(mocks.LimiterMock)
	limiter.On("Allow", mock.Anything, "send:1", int64(2), time.Minute).Return(false, int64(0), assert.AnError).Once()
	r := newRouter(RateLimit(limiter, "send", 2, time.Minute))

	assert.Equal(t, http.StatusCreated, serve(r, "/ok", nil).Code)
}

func TestRateLimitDisabled(t *testing.T) {
	r := newRouter(RateLimit(nil, "send", 2, time.Minute))
	assert.Equal(t, http.StatusCreated, serve(r, "/ok", nil).Code)
}

func TestIdempotencyDuplicate(t *testing.T) {
	store := new(mocks.IdempotencyStoreMock)
	store.On("PutNX", mock.Anything, "1:abc", time.Hour).Return(true, nil).Once()
	store.On("PutNX", mock.Anything, "1:abc", time.Hour).Return(false, nil).Once()
	r := newRouter(Idempotency(store, time.Hour))
	header := http.Header{"Idempotency-Key": {"abc"}}

	assert.Equal(t, http.StatusCreated, serve(r, "/ok", header).Code)
	assert.Equal(t, http.StatusConflict, serve(r, "/ok", header).Code)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestIdempotencyReleasesFailedRequest(t *testing.T) {
	store := new(mocks.IdempotencyStoreMock)
	store.On("PutNX", mock.Anything, "1:abc", time.Hour).Return(true, nil).Once()
	store.On("Release", mock.Anything, "1:abc").Return(nil).Once()
	r := newRouter(Idempotency(store, time.Hour))

	assert.Equal(t, http.StatusUnprocessableEntity, serve(r, "/fail", http.Header{"Idempotency-Key": {"abc"}}).Code)
	store.AssertExpectations(t)
}

func TestIdempotencyWithoutKey(t *testing.T) {
	store := new(mocks.IdempotencyStoreMock)
	r := newRouter(Idempotency(store, time.Hour))

	assert.Equal(t, http.StatusCreated, serve(r, "/ok", nil).Code)
	store.AssertNotCalled(t, "PutNX", mock.Anything, mock.Anything, mock.Anything)
}
