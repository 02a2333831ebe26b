package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const (
	headerRequestID = "X-Request-ID"
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"

	actorKey = "drafts.actor"
)

// requestID кладёт идентификатор операции в контекст запроса и в ответ.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(domain.WithOperationID(c.Request.Context(), id))
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// actorFromHeaders читает личность вызывающего, выставленную шлюзом авторизации.
func actorFromHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerActorID))
		if id == "" {
			writeError(c, http.StatusUnauthorized, "unauthenticated", "X-Actor-ID header is required", nil)
			c.Abort()
			return
		}

		role := domain.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(headerActorRole))))
		switch role {
		case "":
			role = domain.RoleMember
		case domain.RoleMember, domain.RoleStaff, domain.RoleAdmin:
		default:
			writeError(c, http.StatusBadRequest, "invalid_role", "unknown actor role "+string(role), nil)
			c.Abort()
			return
		}

		c.Set(actorKey, domain.Actor{ID: id, Role: role})
		c.Next()
	}
}

func actorOf(c *gin.Context) domain.Actor {
	actor, _ := c.Get(actorKey)
	a, _ := actor.(domain.Actor)
	return a
}

// requestLogger пишет одну строку на запрос через logrus.
func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(log.Fields{
			"method":       c.Request.Method,
			"path":         c.FullPath(),
			"status":       status,
			"duration_ms":  time.Since(start).Milliseconds(),
			"operation_id": domain.OperationIDFromContext(c.Request.Context()),
		})
		if sid := c.Param("id"); sid != "" {
			entry = entry.WithField("session_id", sid)
		}

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("HTTP request")
		case status >= http.StatusBadRequest:
			entry.Warn("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}
