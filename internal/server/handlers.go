package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/auth"
	"github.com/hdnguyen/soc-sentinel/internal/scenario"
)

// =============================================================================
// Auth
// =============================================================================

func (s *Server) handleLogin(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, err := s.auth.Login(username, password)
	if err != nil {
		s.logger.Warn("Login rejected", zap.String("username", username))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// =============================================================================
// Incidents
// =============================================================================

func (s *Server) handleListIncidents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	severity := c.Query("severity")
	status := c.Query("status")

	recs, err := s.store.ListIncidents(c.Request.Context(), limit, severity, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": recs, "count": len(recs)})
}

func (s *Server) handleGetIncident(c *gin.Context) {
	rec, err := s.store.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleResolveIncident(c *gin.Context) {
	rec, err := s.store.ResolveIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// =============================================================================
// Actions
// =============================================================================

func (s *Server) handleProposeActions(c *gin.Context) {
	var body struct {
		IncidentID string `json:"incident_id"`
		SessionID  string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.IncidentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incident_id is required"})
		return
	}

	recs, err := s.actions.Propose(c.Request.Context(), body.IncidentID, body.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"actions": recs, "count": len(recs)})
}

func (s *Server) handleListActions(c *gin.Context) {
	status := c.Query("status")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	recs, total, err := s.actions.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": recs, "total": total})
}

func (s *Server) handleApproveAction(c *gin.Context) {
	reviewer := c.GetString(auth.ContextUserKey)
	rec, err := s.actions.Approve(c.Request.Context(), c.Param("id"), reviewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRejectAction(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	reviewer := c.GetString(auth.ContextUserKey)
	rec, err := s.actions.Reject(c.Request.Context(), c.Param("id"), reviewer, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// =============================================================================
// Scenario replay
// =============================================================================

func (s *Server) handleListScenarios(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scenarios": s.scenarios.List()})
}

func (s *Server) handleRunScenario(c *gin.Context) {
	var body struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ScenarioID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scenario_id is required"})
		return
	}

	if err := s.scenarios.Start(body.ScenarioID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "scenario_id": body.ScenarioID})
}

func (s *Server) handleStopScenario(c *gin.Context) {
	if err := s.scenarios.Stop(); err != nil {
		if err == scenario.ErrNotRunning {
			c.JSON(http.StatusOK, gin.H{"status": "idle"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleScenarioStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scenarios.Status())
}

// =============================================================================
// Chat
// =============================================================================

func (s *Server) handleChat(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	reply, err := s.responder.Respond(c.Request.Context(), body.SessionID, body.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}
