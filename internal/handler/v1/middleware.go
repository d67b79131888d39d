package v1

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carebridgehq/carebridge/internal/access"
	"github.com/carebridgehq/carebridge/internal/config"
	"github.com/carebridgehq/carebridge/internal/domain"
	"github.com/carebridgehq/carebridge/pkg/auth"
	"github.com/carebridgehq/carebridge/pkg/metrics"
)

const (
	ctxKeyClaims = "claims"
	ctxKeyActor  = "actor"
)

// AuthMiddleware validates the bearer token and stores both the raw claims
// and the derived actor on the request context. The actor ID is the party
// identity (provider or patient ID from the claims), not the login user ID,
// because the access checks compare against connection parties.
func AuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if tokenString == "" || tokenString == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "authorization header must use Bearer scheme"})
			return
		}

		claims, err := jwtManager.ValidateAccessToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired token"})
			return
		}

		actor, ok := actorFromClaims(claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "token carries no usable identity"})
			return
		}

		c.Set(ctxKeyClaims, claims)
		c.Set(ctxKeyActor, actor)
		c.Next()
	}
}

// RequireRole rejects requests whose actor does not hold one of the given
// roles. Runs after AuthMiddleware.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := mustActor(c)
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
	}
}

func actorFromClaims(claims *domain.Claims) (access.Actor, bool) {
	switch claims.Role {
	case domain.RoleAdmin:
		return access.Actor{ID: claims.UserID, Role: domain.RoleAdmin}, true
	case domain.RoleProvider:
		if claims.ProviderID == nil {
			return access.Actor{}, false
		}
		return access.Actor{ID: *claims.ProviderID, Role: domain.RoleProvider}, true
	case domain.RolePatient:
		if claims.PatientID == nil {
			return access.Actor{}, false
		}
		return access.Actor{ID: *claims.PatientID, Role: domain.RolePatient}, true
	}
	return access.Actor{}, false
}

func mustActor(c *gin.Context) access.Actor {
	v, _ := c.Get(ctxKeyActor)
	actor, _ := v.(access.Actor)
	return actor
}

func mustClaims(c *gin.Context) *domain.Claims {
	v, _ := c.Get(ctxKeyClaims)
	claims, _ := v.(*domain.Claims)
	return claims
}

// RequestIDMiddleware attaches a request ID, honoring one supplied by an
// upstream proxy.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// LoggingMiddleware logs one line per request. Identifiers only; no request
// bodies or query strings reach the log.
func LoggingMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
			zap.String("client_ip", c.ClientIP()),
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request failed", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("request rejected", fields...)
		default:
			log.Info("request completed", fields...)
		}
	}
}

// ipLimiter hands out one token bucket per client IP. Entries are pruned
// after an hour of inactivity to bound memory on churny client pools.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	limit    rate.Limit
	burst    int
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	l := &ipLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		limit:    limit,
		burst:    burst,
	}
	go l.prune()
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (l *ipLimiter) prune() {
	for range time.Tick(10 * time.Minute) {
		cutoff := time.Now().Add(-time.Hour)
		l.mu.Lock()
		for ip, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimitMiddleware limits requests per client IP.
func RateLimitMiddleware(limit rate.Limit, burst int) gin.HandlerFunc {
	limiter := newIPLimiter(limit, burst)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many requests",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// AuthRateLimitMiddleware applies the stricter per-minute budget used on
// credential endpoints.
func AuthRateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	return RateLimitMiddleware(rate.Limit(float64(cfg.AuthRequestsPerMinute)/60.0), cfg.AuthRequestsPerMinute)
}

// MetricsMiddleware records request counts and latency per route template.
func MetricsMiddleware(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		collector.InFlightGauge.Inc()
		start := time.Now()

		c.Next()

		collector.InFlightGauge.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		collector.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		collector.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
