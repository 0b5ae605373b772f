package httpapi

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kpiboard/internal/kpi"
	"kpiboard/internal/logger"
)

const (
	headerUserID     = "X-User-ID"
	headerDepartment = "X-User-Department"
	headerRequestID  = "X-Request-ID"

	ctxKeyCaller    = "kpiboard.caller"
	ctxKeyRequestID = "kpiboard.request_id"
)

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// CORS allows the board front end to call the API from origins.
func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", headerUserID, headerDepartment, headerRequestID},
		ExposeHeaders:    []string{headerRequestID},
		AllowCredentials: true,
	})
}

// RequestID tags every request, reusing an incoming X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// Identity reads the caller supplied by the session layer in front of us.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxKeyCaller, kpi.Identity{
			UserID:     strings.TrimSpace(c.GetHeader(headerUserID)),
			Department: strings.TrimSpace(c.GetHeader(headerDepartment)),
		})
		c.Next()
	}
}

func callerFrom(c *gin.Context) kpi.Identity {
	if v, ok := c.Get(ctxKeyCaller); ok {
		if id, ok := v.(kpi.Identity); ok {
			return id
		}
	}
	return kpi.Identity{}
}

// RequestLogger logs one line per request at a level chosen by its status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(ctxKeyRequestID),
		}
		if caller := callerFrom(c); caller.UserID != "" {
			fields = append(fields, "user_id", caller.UserID)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
