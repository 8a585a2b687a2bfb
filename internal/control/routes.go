package control

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/presencectl/internal/presence"
	"github.com/danmuck/presencectl/internal/rpc"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State           string         `json:"state"`
	AppID           string         `json:"app_id"`
	Endpoint        string         `json:"endpoint,omitempty"`
	User            *presence.User `json:"user,omitempty"`
	ConnectedAt     *time.Time     `json:"connected_at,omitempty"`
	PresencePending bool           `json:"presence_pending"`
	JoinRequests    int            `json:"join_requests"`
}

// ReplyRequest is the body of POST /join-requests/:user_id/reply.
type ReplyRequest struct {
	Reply string `json:"reply"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", s.requireToken())
	api.GET("/status", s.handleStatus)
	api.GET("/events", s.handleEvents)

	mutate := api.Group("/", s.limitMutations())
	mutate.PUT("/presence", s.handleSetPresence)
	mutate.DELETE("/presence", s.handleClearPresence)
	mutate.POST("/connect", s.handleConnect)
	mutate.POST("/disconnect", s.handleDisconnect)
	mutate.POST("/join-requests/:user_id/reply", s.handleReply)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).String(),
		"service": "presencectl",
		"version": Version,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.engine.Status()
	resp := StatusResponse{
		State:           st.State.String(),
		AppID:           st.AppID,
		Endpoint:        st.Endpoint,
		User:            st.User,
		PresencePending: st.PresencePending,
		JoinRequests:    s.recorder.PendingJoinRequests(),
	}
	if !st.ConnectedAt.IsZero() {
		at := st.ConnectedAt
		resp.ConnectedAt = &at
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"events": s.recorder.Recent(limit)})
}

func (s *Server) handleSetPresence(c *gin.Context) {
	var doc presence.Activity
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.SetPresence(doc)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) handleClearPresence(c *gin.Context) {
	cleared := s.engine.ClearPresence()
	c.JSON(http.StatusAccepted, gin.H{"status": "cleared", "pending_dropped": cleared})
}

func (s *Server) handleConnect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ConnectTimeout)
	defer cancel()
	err := s.engine.Connect(ctx)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "connected", "state": s.engine.Status().State.String()})
	case errors.Is(err, rpc.ErrAlreadyConnected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, rpc.ErrDiscordNotDetected), errors.Is(err, rpc.ErrSocketUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if !s.engine.Disconnect() {
		c.JSON(http.StatusOK, gin.H{"status": "already_disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (s *Server) handleReply(c *gin.Context) {
	var body ReplyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := presence.ParseJoinReply(body.Reply)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, ok := s.recorder.TakeJoinRequest(c.Param("user_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending join request for user"})
		return
	}
	s.engine.Reply(req, reply)
	c.JSON(http.StatusAccepted, gin.H{"status": "sent", "user_id": req.UserID, "reply": reply.String()})
}
