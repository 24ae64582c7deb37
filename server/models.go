package main

import "time"

// Agent is the identity and liveness record for one endpoint agent. At
// most one agent exists per computer.
type Agent struct {
	ID            uint  `gorm:"primaryKey"`
	ComputerID    int64 `gorm:"uniqueIndex"`
	Version       string
	Status        string `gorm:"default:online"`
	LastHeartbeat *time.Time
	ConfigVersion string
	OfflineSince  *time.Time
}

// AgentPolicy is the single current configuration for one agent, mutated
// in place. History lives in AgentPolicyVersion rows.
type AgentPolicy struct {
	ID                           uint `gorm:"primaryKey"`
	AgentID                      uint `gorm:"uniqueIndex"`
	ComputerID                   int64
	PolicyVersion                string
	CollectionIntervalSec        int
	HeartbeatIntervalSec         int
	FlushIntervalSec             int
	EnableProcessCollection      bool
	EnableBrowserCollection      bool
	EnableActiveWindowCollection bool
	EnableIdleCollection         bool
	IdleThresholdSec             int
	BrowserPollIntervalSec       int
	ProcessSnapshotLimit         int
	HighRiskThreshold            float32
	AutoLockEnabled              bool
	AdminBlocked                 bool
	BlockedReason                string
	BrowsersJSON                 string `gorm:"column:browsers_json;type:text"`
	UpdatedAt                    time.Time
}

// AgentPolicyVersion is an immutable, append-only snapshot of a policy's
// content at the moment of a change. Rows survive deletion of the policy
// and of the agent.
type AgentPolicyVersion struct {
	ID            uint `gorm:"primaryKey"`
	AgentID       uint `gorm:"index"`
	PolicyVersion string
	ChangeType    string
	ChangedBy     string
	SnapshotJSON  string `gorm:"column:snapshot_json;type:text"`
	CreatedAt     time.Time
}

// AgentCommand is one queued instruction. Pending commands are observed
// by agent polls until acknowledged; acknowledgement is terminal.
type AgentCommand struct {
	ID             uint `gorm:"primaryKey"`
	AgentID        uint `gorm:"index"`
	Type           string
	PayloadJSON    string `gorm:"column:payload_json;type:text"`
	Status         string `gorm:"index;default:pending"`
	RequestedBy    string
	ResultMessage  string
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
}

// SyncBatch tracks one bulk activity upload from an agent.
type SyncBatch struct {
	ID           uint   `gorm:"primaryKey"`
	AgentID      uint   `gorm:"index"`
	BatchID      string `gorm:"index"`
	Status       string `gorm:"default:pending"`
	SyncedAt     *time.Time
	RecordsCount int
	CreatedAt    time.Time
}

func allModels() []any {
	return []any{&Agent{}, &AgentPolicy{}, &AgentPolicyVersion{}, &AgentCommand{}, &SyncBatch{}}
}
