package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func (s *Server) registerVersionRoutes(r *gin.Engine) {
	r.GET("/v1/agents/:id/policy/versions", s.handleListPolicyVersions)
	r.POST("/v1/agents/:id/policy/versions/:version_id/restore", s.handleRestorePolicyVersion)
}

func (s *Server) handleListPolicyVersions(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	page, pageSize := pageParams(c)
	query := s.db.Model(&AgentPolicyVersion{}).Where("agent_id = ?", agentID)

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving policy versions", err)
		return
	}

	var rows []AgentPolicyVersion
	if err := query.Order("id desc").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving policy versions", err)
		return
	}

	views := make([]policyVersionView, 0, len(rows))
	for i := range rows {
		views = append(views, newPolicyVersionView(&rows[i]))
	}
	respondOK(c, http.StatusOK, "Agent policy versions retrieved successfully", gin.H{
		"versions":   views,
		"totalCount": totalCount,
	})
}

// handleRestorePolicyVersion writes a snapshot's content back through the
// normal validation path under a brand-new version token. Rollback
// restores content, never version numbers.
func (s *Server) handleRestorePolicyVersion(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}
	versionID, err := parseUintParam(c.Param("version_id"))
	if err != nil || versionID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid version ID", nil)
		return
	}

	var req struct {
		RequestedBy string `json:"requestedBy"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondFail(c, http.StatusBadRequest, "Invalid restore payload", nil)
			return
		}
	}

	var agent Agent
	if err := s.db.First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while restoring policy version", err)
		}
		return
	}

	var versionRow AgentPolicyVersion
	if err := s.db.Where("id = ? AND agent_id = ?", versionID, agentID).First(&versionRow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Policy version not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while restoring policy version", err)
		}
		return
	}

	snapshot, err := decodeSnapshot(versionRow.SnapshotJSON)
	if err != nil {
		s.respondFail(c, http.StatusUnprocessableEntity, "Policy snapshot is corrupted", nil)
		return
	}

	var policy AgentPolicy
	isNew := false
	if err := s.db.Where("agent_id = ?", agentID).First(&policy).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while restoring policy version", err)
			return
		}
		isNew = true
		policy = AgentPolicy{AgentID: agent.ID, ComputerID: agent.ComputerID}
	}

	input := snapshot.toInput(agentID)
	input.PolicyVersion = newPolicyVersionToken()
	applyPolicyInput(&policy, input, &agent)

	changedBy := strings.TrimSpace(req.RequestedBy)
	if changedBy == "" {
		changedBy = "panel"
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&policy).Error; err != nil {
			return err
		}
		return savePolicySnapshot(tx, &policy, "rollback", changedBy)
	})
	if err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while restoring policy version", err)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().
		Uint("agent_id", agentID).
		Uint("version_id", versionID).
		Bool("created", isNew).
		Str("requested_by", changedBy).
		Msg("restored policy version")

	respondOK(c, http.StatusOK, "Agent policy restored successfully", gin.H{
		"policy":       s.policyView(&policy),
		"restoredFrom": newPolicyVersionView(&versionRow),
	})
}
