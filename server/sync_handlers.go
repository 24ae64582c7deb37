package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Server) registerSyncRoutes(r *gin.Engine) {
	r.POST("/v1/agents/:id/sync-batches", s.handleCreateSyncBatch)
	r.GET("/v1/agents/:id/sync-batches", s.handleListSyncBatches)
	r.GET("/v1/sync-batches/pending", s.handlePendingSyncBatches)
	r.GET("/v1/sync-batches/:id", s.handleGetSyncBatch)
	r.PUT("/v1/sync-batches/:id", s.handleUpdateSyncBatch)
}

func (s *Server) handleCreateSyncBatch(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	var req struct {
		BatchID      string `json:"batchId"`
		RecordsCount int    `json:"recordsCount"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondFail(c, http.StatusBadRequest, "Invalid sync batch payload", nil)
			return
		}
	}

	var count int64
	if err := s.db.Model(&Agent{}).Where("id = ?", agentID).Count(&count).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while creating sync batch", err)
		return
	}
	if count == 0 {
		s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
		return
	}

	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		batchID = uuid.NewString()
	}

	batch := SyncBatch{
		AgentID:      agentID,
		BatchID:      batchID,
		Status:       "pending",
		RecordsCount: req.RecordsCount,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.Create(&batch).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while creating sync batch", err)
		return
	}

	respondOK(c, http.StatusCreated, "Sync batch created successfully", gin.H{"batch": newSyncBatchView(&batch)})
}

func (s *Server) handleGetSyncBatch(c *gin.Context) {
	batchID, err := parseUintParam(c.Param("id"))
	if err != nil || batchID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid sync batch ID", nil)
		return
	}

	var batch SyncBatch
	if err := s.db.First(&batch, batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Sync batch not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving sync batch", err)
		}
		return
	}

	respondOK(c, http.StatusOK, "Sync batch retrieved successfully", gin.H{"batch": newSyncBatchView(&batch)})
}

func (s *Server) handleUpdateSyncBatch(c *gin.Context) {
	batchID, err := parseUintParam(c.Param("id"))
	if err != nil || batchID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid sync batch ID", nil)
		return
	}

	var req struct {
		Status       string `json:"status"`
		RecordsCount int    `json:"recordsCount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondFail(c, http.StatusBadRequest, "Invalid sync batch payload", nil)
		return
	}

	var batch SyncBatch
	if err := s.db.First(&batch, batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Sync batch not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while updating sync batch", err)
		}
		return
	}

	if status := strings.TrimSpace(req.Status); status != "" {
		batch.Status = status
		if status == "success" {
			now := time.Now().UTC()
			batch.SyncedAt = &now
		}
	}
	batch.RecordsCount = req.RecordsCount

	if err := s.db.Save(&batch).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while updating sync batch", err)
		return
	}

	respondOK(c, http.StatusOK, "Sync batch updated successfully", gin.H{"batch": newSyncBatchView(&batch)})
}

func (s *Server) handleListSyncBatches(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	page, pageSize := pageParams(c)
	query := s.db.Model(&SyncBatch{}).Where("agent_id = ?", agentID)
	if status := strings.ToLower(strings.TrimSpace(c.Query("status"))); status != "" {
		query = query.Where("status = ?", status)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving sync batches", err)
		return
	}

	var batches []SyncBatch
	if err := query.Order("id desc").Offset((page - 1) * pageSize).Limit(pageSize).Find(&batches).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving sync batches", err)
		return
	}

	respondOK(c, http.StatusOK, "Sync batches retrieved successfully", gin.H{
		"batches":    syncBatchViews(batches),
		"totalCount": totalCount,
	})
}

func (s *Server) handlePendingSyncBatches(c *gin.Context) {
	page, pageSize := pageParams(c)
	query := s.db.Model(&SyncBatch{}).Where("status = ?", "pending")

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving pending sync batches", err)
		return
	}

	var batches []SyncBatch
	if err := query.Order("id asc").Offset((page - 1) * pageSize).Limit(pageSize).Find(&batches).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving pending sync batches", err)
		return
	}

	respondOK(c, http.StatusOK, "Pending sync batches retrieved successfully", gin.H{
		"batches":    syncBatchViews(batches),
		"totalCount": totalCount,
	})
}

func syncBatchViews(batches []SyncBatch) []syncBatchView {
	views := make([]syncBatchView, 0, len(batches))
	for i := range batches {
		views = append(views, newSyncBatchView(&batches[i]))
	}
	return views
}
