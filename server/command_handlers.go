package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultPendingLimit = 20
	maxPendingLimit     = 100
)

func (s *Server) registerCommandRoutes(r *gin.Engine) {
	r.POST("/v1/agents/:id/commands", s.rateLimited("create-command", 60, time.Minute, func(c *gin.Context) string {
		return c.Param("id")
	}, s.handleCreateCommand))
	r.GET("/v1/agents/:id/commands", s.handleListCommands)
	r.GET("/v1/agents/:id/commands/pending", s.handlePendingCommands)
	r.POST("/v1/commands/:id/ack", s.handleAckCommand)
}

// handleCreateCommand queues an instruction. Payload shape never blocks
// queueing; only a missing agent or missing type does.
func (s *Server) handleCreateCommand(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	var req struct {
		Type        string `json:"type"`
		PayloadJSON string `json:"payloadJson"`
		RequestedBy string `json:"requestedBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondFail(c, http.StatusBadRequest, "Invalid command payload", nil)
		return
	}

	var count int64
	if err := s.db.Model(&Agent{}).Where("id = ?", agentID).Count(&count).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while creating command", err)
		return
	}
	if count == 0 {
		s.respondFail(c, http.StatusNotFound, "Agent not found", nil)
		return
	}

	commandType := normalizeCommandType(req.Type)
	if commandType == "" {
		s.respondFail(c, http.StatusBadRequest, "Command type is required", nil)
		return
	}

	requestedBy := strings.TrimSpace(req.RequestedBy)
	if requestedBy == "" {
		requestedBy = "panel"
	}

	command := AgentCommand{
		AgentID:     agentID,
		Type:        commandType,
		PayloadJSON: normalizeJSONObjectString(req.PayloadJSON),
		Status:      "pending",
		RequestedBy: requestedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.Create(&command).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while creating command", err)
		return
	}

	respondOK(c, http.StatusCreated, "Agent command created successfully", gin.H{"command": s.commandView(&command)})
}

// handlePendingCommands serves the agent poll: oldest pending first,
// without mutating anything. A command stays visible until acknowledged,
// so delivery is at-least-once.
func (s *Server) handlePendingCommands(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}

	var commands []AgentCommand
	err = s.db.Where("agent_id = ? AND status = ?", agentID, "pending").
		Order("id asc").
		Limit(limit).
		Find(&commands).Error
	if err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving pending commands", err)
		return
	}

	respondOK(c, http.StatusOK, "Pending agent commands retrieved successfully", gin.H{
		"commands": s.commandViews(commands),
	})
}

func (s *Server) handleListCommands(c *gin.Context) {
	agentID, err := parseUintParam(c.Param("id"))
	if err != nil || agentID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid agent ID", nil)
		return
	}

	page, pageSize := pageParams(c)
	query := s.db.Model(&AgentCommand{}).Where("agent_id = ?", agentID)
	if status := strings.ToLower(strings.TrimSpace(c.Query("status"))); status != "" {
		query = query.Where("status = ?", status)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving commands", err)
		return
	}

	var commands []AgentCommand
	if err := query.Order("id desc").Offset((page - 1) * pageSize).Limit(pageSize).Find(&commands).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while retrieving commands", err)
		return
	}

	respondOK(c, http.StatusOK, "Agent commands retrieved successfully", gin.H{
		"commands":   s.commandViews(commands),
		"totalCount": totalCount,
	})
}

// handleAckCommand records the agent's reported outcome. An unrecognized
// status normalizes to "success" so a malformed report cannot strand a
// command in pending; the raw string is kept in the result message.
func (s *Server) handleAckCommand(c *gin.Context) {
	commandID, err := parseUintParam(c.Param("id"))
	if err != nil || commandID == 0 {
		s.respondFail(c, http.StatusBadRequest, "Invalid command ID", nil)
		return
	}

	var req struct {
		Status        string `json:"status"`
		ResultMessage string `json:"resultMessage"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondFail(c, http.StatusBadRequest, "Invalid ack payload", nil)
			return
		}
	}

	var command AgentCommand
	if err := s.db.First(&command, commandID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondFail(c, http.StatusNotFound, "Command not found", nil)
		} else {
			s.respondFail(c, http.StatusInternalServerError, "An error occurred while acknowledging command", err)
		}
		return
	}

	status, recognized := normalizeCommandStatus(req.Status)
	resultMessage := strings.TrimSpace(req.ResultMessage)
	if !recognized && strings.TrimSpace(req.Status) != "" {
		resultMessage = strings.TrimSpace(fmt.Sprintf("%s [reported status: %s]", resultMessage, strings.TrimSpace(req.Status)))
	}

	now := time.Now().UTC()
	command.Status = status
	command.ResultMessage = resultMessage
	command.AcknowledgedAt = &now

	if err := s.db.Save(&command).Error; err != nil {
		s.respondFail(c, http.StatusInternalServerError, "An error occurred while acknowledging command", err)
		return
	}

	respondOK(c, http.StatusOK, "Agent command acknowledged successfully", gin.H{"command": s.commandView(&command)})
}

func (s *Server) commandViews(commands []AgentCommand) []any {
	views := make([]any, 0, len(commands))
	for i := range commands {
		views = append(views, s.commandView(&commands[i]))
	}
	return views
}

// normalizeCommandType upper-cases the type and folds spaces to
// underscores: "ping tool" becomes "PING_TOOL".
func normalizeCommandType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ToUpper(value), " ", "_")
}

// normalizeCommandStatus maps the reported status onto the five valid
// values, failing open to "success" for anything else.
func normalizeCommandStatus(value string) (status string, recognized bool) {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case "pending", "running", "success", "failed", "ignored":
		return normalized, true
	default:
		return "success", false
	}
}

// normalizeJSONObjectString canonicalizes valid JSON and wraps anything
// else as {"raw": "<original>"} so payload shape never rejects a command.
func normalizeJSONObjectString(payload string) string {
	if strings.TrimSpace(payload) == "" {
		return "{}"
	}
	var parsed any
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		wrapped, _ := json.Marshal(map[string]string{"raw": payload})
		return string(wrapped)
	}
	canonical, err := json.Marshal(parsed)
	if err != nil {
		wrapped, _ := json.Marshal(map[string]string{"raw": payload})
		return string(wrapped)
	}
	return string(canonical)
}
