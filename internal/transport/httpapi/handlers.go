package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

type handlers struct {
	stager   Stager
	commits  Committer
	timeline domain.TimelineRepository
	logger   *log.Entry
}

type openRequest struct {
	Kind domain.DraftKind `json:"kind" binding:"required"`
}

type addItemRequest struct {
	Quantity int32 `json:"quantity"`
}

type setFieldRequest struct {
	Value string `json:"value"`
}

// CommitResponse описывает тело успешного коммита.
type CommitResponse struct {
	SessionID    string   `json:"session_id"`
	Status       string   `json:"status"`
	CommittedIDs []string `json:"committed_ids"`
	TotalMinor   int64    `json:"total_minor"`
	Currency     string   `json:"currency,omitempty"`
}

// TimelineEntry: элемент аудит-журнала черновика.
type TimelineEntry struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func (h *handlers) open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	draft, err := h.stager.Open(c.Request.Context(), actorOf(c), req.Kind)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, draft)
}

func (h *handlers) get(c *gin.Context) {
	draft, err := h.stager.Get(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h *handlers) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	draft, err := h.stager.Add(c.Request.Context(), actorOf(c), c.Param("id"), c.Param("ref"), req.Quantity)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h *handlers) removeItem(c *gin.Context) {
	draft, err := h.stager.Remove(c.Request.Context(), actorOf(c), c.Param("id"), c.Param("ref"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h *handlers) setField(c *gin.Context) {
	var req setFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	draft, err := h.stager.SetField(c.Request.Context(), actorOf(c), c.Param("id"), c.Param("name"), req.Value)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h *handlers) unsetField(c *gin.Context) {
	draft, err := h.stager.UnsetField(c.Request.Context(), actorOf(c), c.Param("id"), c.Param("name"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h *handlers) commit(c *gin.Context) {
	result, err := h.commits.Commit(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		var details map[string]any
		if result.Status != "" {
			details = map[string]any{"result": toCommitResponse(result)}
		}
		respondError(c, err, details)
		return
	}
	c.JSON(http.StatusOK, toCommitResponse(result))
}

// timelineOf отдаёт журнал владельцу живого черновика или персоналу.
// После коммита черновик удалён, поэтому журнал доступен только повышенной роли.
func (h *handlers) timelineOf(c *gin.Context) {
	if h.timeline == nil {
		writeError(c, http.StatusNotImplemented, "timeline_disabled", "timeline is not configured", nil)
		return
	}

	ctx := c.Request.Context()
	actor := actorOf(c)
	sessionID := c.Param("id")
	if !actor.Elevated() {
		if _, err := h.stager.Get(ctx, actor, sessionID); err != nil {
			respondError(c, err, nil)
			return
		}
	}

	events, err := h.timeline.List(ctx, sessionID)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).Error("failed to list timeline")
		respondError(c, err, nil)
		return
	}

	entries := make([]TimelineEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, TimelineEntry{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "events": entries})
}

func toCommitResponse(result domain.CommitResult) CommitResponse {
	ids := result.CommittedIDs
	if ids == nil {
		ids = []string{}
	}
	return CommitResponse{
		SessionID:    result.SessionID,
		Status:       string(result.Status),
		CommittedIDs: ids,
		TotalMinor:   result.TotalMinor,
		Currency:     result.Currency,
	}
}
