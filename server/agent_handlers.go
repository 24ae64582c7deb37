package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func (s *Server) registerAgentRoutes(r *gin.Engine) {
	r.POST("/v1/agents", s.handleRegisterAgent)
	r.GET("/v1/agents", s.handleListAgents)
	r.GET("/v1/agents/:id", s.handleGetAgent)
	r.PUT("/v1/agents/:id/status", s.handleUpdateAgentStatus)
	r.DELETE("/v1/agents/:id", s.handleDeleteAgent)
}

// handleRegisterAgent enrolls one agent per computer. Re-registering an
// already-known computer is rejected rather than merged.
func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req struct {
		ComputerID    int64  `json:"computerId"`
		Version       string `json:"version"`
		ConfigVersion string `json:"configVersion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondFail(c, http.StatusBadRequest, "Invalid registration payload", nil)
		return
	}
	if req.ComputerID <= 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid computer ID", nil)
		return
	}

	var count int64
	if err := s.db.Model(&Agent{}).Where("computer_id = ?", req.ComputerID).Count(&count).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while registering agent", err)
		return
	}
	if count > 0 {
		s.respondFail(c, http.StatusConflict, "Agent already exists for this computer", nil)
		return
	}

	now := time.Now().UTC()
	agent := Agent{
		ComputerID:    req.ComputerID,
		Version:       strings.TrimSpace(req.Version),
		Status:        "online",
		ConfigVersion: strings.TrimSpace(req.ConfigVersion),
		LastHeartbeat: &now,
	}
	if err := s.db.Create(&agent).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while registering agent", err)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().Uint("agent_id", agent.ID).Int64("computer_id", agent.ComputerID).Msg("registered agent")
	respondOK(c, http.StatusCreated, "Agent registered successfully", gin.H{"agent": newAgentView(&agent)})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	var agent Agent
	if err := s.db.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving agent", err)
		}
		return
	}

	respondOK(c, http.StatusOK, "Agent retrieved successfully", gin.H{"agent": newAgentView(&agent)})
}

func (s *Server) handleListAgents(c *gin.Context) {
	page, pageSize := pageParams(c)
	query := s.db.Model(&Agent{})
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if computerID, err := strconv.ParseInt(c.Query("computer_id"), 10, 64); err == nil && computerID > 0 {
		query = query.Where("computer_id = ?", computerID)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving agents", err)
		return
	}

	var agents []Agent
	if err := query.Order("last_heartbeat desc").Offset((page - 1) * pageSize).Limit(pageSize).Find(&agents).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving agents", err)
		return
	}

	views := make([]agentView, 0, len(agents))
	for i := range agents {
		views = append(views, newAgentView(&agents[i]))
	}
	respondOK(c, http.StatusOK, "Agents retrieved successfully", gin.H{
		"agents":     views,
		"totalCount": totalCount,
	})
}

// handleUpdateAgentStatus refreshes liveness. offlineSince is stamped on
// the transition into offline and cleared on recovery.
func (s *Server) handleUpdateAgentStatus(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	var req struct {
		Status        string `json:"status"`
		ConfigVersion string `json:"configVersion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondFail(c, http.StatusBadRequest, "Invalid status payload", nil)
		return
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		s.respondFail(c, http.StatusBadRequest, "Status is required", nil)
		return
	}

	var agent Agent
	if err := s.db.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while updating agent status", err)
		}
		return
	}

	now := time.Now().UTC()
	previousStatus := agent.Status
	agent.Status = status
	agent.LastHeartbeat = &now
	if configVersion := strings.TrimSpace(req.ConfigVersion); configVersion != "" {
		agent.ConfigVersion = configVersion
	}
	if previousStatus != "offline" && status == "offline" {
		agent.OfflineSince = &now
	} else if previousStatus == "offline" && status != "offline" {
		agent.OfflineSince = nil
	}

	if err := s.db.Save(&agent).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while updating agent status", err)
		return
	}

	respondOK(c, http.StatusOK, "Agent status updated successfully", gin.H{"agent": newAgentView(&agent)})
}

// handleDeleteAgent removes the agent and cascades to its policy and
// commands inside one transaction. Version rows stay behind as the audit
// trail; the policy removal records a final delete snapshot.
func (s *Server) handleDeleteAgent(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	var agent Agent
	if err := s.db.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while deleting agent", err)
		}
		return
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var policy AgentPolicy
		switch err := tx.Where("agent_id = ?", agentID).First(&policy).Error; {
		case err == nil:
			if err := savePolicySnapshot(tx, &policy, "delete", "system"); err != nil {
				return err
			}
			if err := tx.Delete(&policy).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		if err := tx.Where("agent_id = ?", agentID).Delete(&AgentCommand{}).Error; err != nil {
			return err
		}
		if err := tx.Where("agent_id = ?", agentID).Delete(&SyncBatch{}).Error; err != nil {
			return err
		}
		return tx.Delete(&agent).Error
	})
	if err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while deleting agent", err)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().Uint("agent_id", agentID).Msg("deleted agent and dependent records")
	respondOK(c, http.StatusOK, "Agent deleted successfully", nil)
}
