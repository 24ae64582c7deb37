package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func (s *Server) registerPolicyRoutes(r *gin.Engine) {
	r.GET("/v1/agents/:id/policy", s.handleGetPolicy)
	r.PUT("/v1/agents/:id/policy", s.handleUpsertPolicy)
	r.DELETE("/v1/agents/:id/policy", s.handleDeletePolicy)
}

// handleGetPolicy returns the agent's current policy, lazily synthesizing
// one from defaults the first time an enrolled agent asks.
func (s *Server) handleGetPolicy(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	var policy AgentPolicy
	err = s.db.Where("agent_id = ?", agentID).First(&policy).Error
	switch {
	case err == nil:
		respondOK(c, http.StatusOK, "Agent policy retrieved successfully", gin.H{"policy": s.policyView(&policy)})
		return
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving agent policy", err)
		return
	}

	var agent Agent
	if err := s.db.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving agent policy", err)
		}
		return
	}

	created := defaultPolicy(&agent)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(created).Error; err != nil {
			return err
		}
		return savePolicySnapshot(tx, created, "create", "system")
	})
	if err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving agent policy", err)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().Uint("agent_id", agentID).Msg("synthesized default policy")
	respondOK(c, http.StatusOK, "Agent policy retrieved successfully", gin.H{"policy": s.policyView(created)})
}

func (s *Server) handleUpsertPolicy(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	var input policyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondFail(c, http.StatusBadRequest, "Invalid policy payload", nil)
		return
	}

	var agent Agent
	if err := s.db.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while saving agent policy", err)
		}
		return
	}

	// Read-modify-write without a concurrency token: concurrent upserts for
	// the same agent race and the last commit wins, each with its own
	// version row.
	var policy AgentPolicy
	isNew := false
	if err := s.db.Where("agent_id = ?", agentID).First(&policy).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while saving agent policy", err)
			return
		}
		isNew = true
		policy = AgentPolicy{AgentID: agent.ID, ComputerID: agent.ComputerID}
	}

	applyPolicyInput(&policy, &input, &agent)

	changeType := "update"
	if isNew {
		changeType = "create"
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&policy).Error; err != nil {
			return err
		}
		return savePolicySnapshot(tx, &policy, changeType, "system")
	})
	if err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while saving agent policy", err)
		return
	}

	message := "Agent policy updated successfully"
	if isNew {
		message = "Agent policy created successfully"
	}
	respondOK(c, http.StatusOK, message, gin.H{"policy": s.policyView(&policy)})
}

// handleDeletePolicy is idempotent: deleting an absent policy for a known
// agent succeeds without recording a version row.
func (s *Server) handleDeletePolicy(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	var policy AgentPolicy
	if err := s.db.Where("agent_id = ?", agentID).First(&policy).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while deleting agent policy", err)
			return
		}
		var count int64
		if err := s.db.Model(&Agent{}).Where("id = ?", agentID).Count(&count).Error; err != nil {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while deleting agent policy", err)
			return
		}
		if count == 0 {
			s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
			return
		}
		respondOK(c, http.StatusOK, "Agent policy already deleted", nil)
		return
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := savePolicySnapshot(tx, &policy, "delete", "system"); err != nil {
			return err
		}
		return tx.Delete(&policy).Error
	})
	if err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while deleting agent policy", err)
		return
	}

	respondOK(c, http.StatusOK, "Agent policy deleted successfully", nil)
}
