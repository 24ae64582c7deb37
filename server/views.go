package main

import (
	"time"

	"github.com/staffsight/controlplane/pkg/signing"
)

// Wire timestamps use millisecond-precision UTC everywhere.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// policyView maps the stored policy to its signed wire form.
func (s *Server) policyView(p *AgentPolicy) *signing.Policy {
	view := &signing.Policy{
		ID:                           int64(p.ID),
		AgentID:                      int64(p.AgentID),
		ComputerID:                   p.ComputerID,
		PolicyVersion:                p.PolicyVersion,
		CollectionIntervalSec:        p.CollectionIntervalSec,
		HeartbeatIntervalSec:         p.HeartbeatIntervalSec,
		FlushIntervalSec:             p.FlushIntervalSec,
		EnableProcessCollection:      p.EnableProcessCollection,
		EnableBrowserCollection:      p.EnableBrowserCollection,
		EnableActiveWindowCollection: p.EnableActiveWindowCollection,
		EnableIdleCollection:         p.EnableIdleCollection,
		IdleThresholdSec:             p.IdleThresholdSec,
		BrowserPollIntervalSec:       p.BrowserPollIntervalSec,
		ProcessSnapshotLimit:         p.ProcessSnapshotLimit,
		HighRiskThreshold:            p.HighRiskThreshold,
		AutoLockEnabled:              p.AutoLockEnabled,
		AdminBlocked:                 p.AdminBlocked,
		BlockedReason:                p.BlockedReason,
		UpdatedAt:                    formatTime(p.UpdatedAt),
		Browsers:                     parseBrowsers(p.BrowsersJSON),
	}
	s.signer.SignPolicy(view)
	if view.Signature != "" {
		signedPayloadsTotal.WithLabelValues("policy").Inc()
	}
	return view
}

// commandView maps the stored command to its signed wire form.
func (s *Server) commandView(cmd *AgentCommand) *signing.Command {
	payload := cmd.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	view := &signing.Command{
		ID:             int64(cmd.ID),
		AgentID:        int64(cmd.AgentID),
		Type:           cmd.Type,
		PayloadJSON:    payload,
		Status:         cmd.Status,
		RequestedBy:    cmd.RequestedBy,
		ResultMessage:  cmd.ResultMessage,
		CreatedAt:      formatTime(cmd.CreatedAt),
		AcknowledgedAt: formatTimePtr(cmd.AcknowledgedAt),
	}
	s.signer.SignCommand(view)
	if view.Signature != "" {
		signedPayloadsTotal.WithLabelValues("command").Inc()
	}
	return view
}

type agentView struct {
	ID            uint   `json:"id"`
	ComputerID    int64  `json:"computerId"`
	Version       string `json:"version"`
	Status        string `json:"status"`
	LastHeartbeat string `json:"lastHeartbeat"`
	ConfigVersion string `json:"configVersion"`
	OfflineSince  string `json:"offlineSince"`
}

func newAgentView(a *Agent) agentView {
	return agentView{
		ID:            a.ID,
		ComputerID:    a.ComputerID,
		Version:       a.Version,
		Status:        a.Status,
		LastHeartbeat: formatTimePtr(a.LastHeartbeat),
		ConfigVersion: a.ConfigVersion,
		OfflineSince:  formatTimePtr(a.OfflineSince),
	}
}

type policyVersionView struct {
	ID            uint   `json:"id"`
	AgentID       uint   `json:"agentId"`
	PolicyVersion string `json:"policyVersion"`
	ChangeType    string `json:"changeType"`
	ChangedBy     string `json:"changedBy"`
	CreatedAt     string `json:"createdAt"`
	SnapshotJSON  string `json:"snapshotJson"`
}

func newPolicyVersionView(v *AgentPolicyVersion) policyVersionView {
	snapshot := v.SnapshotJSON
	if snapshot == "" {
		snapshot = "{}"
	}
	return policyVersionView{
		ID:            v.ID,
		AgentID:       v.AgentID,
		PolicyVersion: v.PolicyVersion,
		ChangeType:    v.ChangeType,
		ChangedBy:     v.ChangedBy,
		CreatedAt:     formatTime(v.CreatedAt),
		SnapshotJSON:  snapshot,
	}
}

type syncBatchView struct {
	ID           uint   `json:"id"`
	AgentID      uint   `json:"agentId"`
	BatchID      string `json:"batchId"`
	Status       string `json:"status"`
	SyncedAt     string `json:"syncedAt"`
	RecordsCount int    `json:"recordsCount"`
	CreatedAt    string `json:"createdAt"`
}

func newSyncBatchView(b *SyncBatch) syncBatchView {
	return syncBatchView{
		ID:           b.ID,
		AgentID:      b.AgentID,
		BatchID:      b.BatchID,
		Status:       b.Status,
		SyncedAt:     formatTimePtr(b.SyncedAt),
		RecordsCount: b.RecordsCount,
		CreatedAt:    formatTime(b.CreatedAt),
	}
}
