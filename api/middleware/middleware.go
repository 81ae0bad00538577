/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"
	"github.com/maintflow/maintflow/config"
	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

const (
	KeyHeader     = "X-Maintflow-Key"
	CompanyHeader = "X-Company-Id"
	MemberHeader  = "X-Member-Id"

	actorContextKey = "maintflow.actor"
)

// RateLimitMiddleware creates a middleware for rate limiting using Tollbooth
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	if conf.RateLimit.RequestsPerSecond == nil || conf.RateLimit.Burst == nil {
		// Rate limiting is disabled
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := *conf.RateLimit.RequestsPerSecond
	burst := *conf.RateLimit.Burst
	ttl := time.Duration(config.DEFAULT_RATE_LIMIT_CLEANUP_SEC) * time.Second
	if conf.RateLimit.CleanupIntervalSec != nil {
		ttl = time.Duration(*conf.RateLimit.CleanupIntervalSec) * time.Second
	}

	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{
		DefaultExpirationTTL: ttl,
	})
	lmt.SetBurst(burst)
	return func(c *gin.Context) {
		httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request)
		if httpError != nil {
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"code": "RATE_LIMITED", "message": httpError.Message})
			return
		}
		c.Next()
	}
}

// SecretKeyAuthMiddleware guards the management routes with the shared
// server key sent in X-Maintflow-Key.
func SecretKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		conf, err := config.Fetch()
		if err != nil || conf.Server.SecretKey == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": apierror.ErrInternalServer, "message": "Secret key is not configured"})
			return
		}

		clientSecret := c.GetHeader(KeyHeader)
		if clientSecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": apierror.ErrUnauthorized, "message": "Missing secret key"})
			return
		}

		if !secureCompare(conf.Server.SecretKey, clientSecret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": apierror.ErrUnauthorized, "message": "Invalid secret key"})
			return
		}

		c.Next()
	}
}

// ActorMiddleware resolves the acting company and member from the request
// headers. Both are required.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := model.Actor{
			CompanyID: strings.TrimSpace(c.GetHeader(CompanyHeader)),
			MemberID:  strings.TrimSpace(c.GetHeader(MemberHeader)),
		}
		if actor.CompanyID == "" || actor.MemberID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    apierror.ErrInvalidInput,
				"message": CompanyHeader + " and " + MemberHeader + " headers are required",
			})
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by ActorMiddleware.
func ActorFrom(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
