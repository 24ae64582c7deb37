package main

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Operational bounds for policy tuning parameters. Values outside the
// range are clamped; non-positive values take the fallback, so an agent
// can never be handed a policy outside these bounds.
const (
	defaultCollectionIntervalSec = 5
	defaultHeartbeatIntervalSec  = 15
	defaultFlushIntervalSec      = 5
	defaultIdleThresholdSec      = 120
	defaultBrowserPollSec        = 10
	defaultProcessSnapshotLimit  = 50
	defaultHighRiskThreshold     = 85
)

var defaultBrowsers = []string{"chrome", "edge", "firefox"}

// snapshotSchemaVersion tags snapshot JSON so future field additions stay
// decodable against old rows.
const snapshotSchemaVersion = 1

func clampInt(value, min, max, fallback int) int {
	if value <= 0 {
		return fallback
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// normalizeBrowsers trims, lower-cases, and dedupes the list, falling back
// to the default set when nothing usable remains.
func normalizeBrowsers(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, b := range in {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	if len(out) == 0 {
		return append([]string(nil), defaultBrowsers...)
	}
	return out
}

func encodeBrowsers(browsers []string) string {
	data, err := json.Marshal(browsers)
	if err != nil {
		data, _ = json.Marshal(defaultBrowsers)
	}
	return string(data)
}

func parseBrowsers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultBrowsers...)
	}
	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return append([]string(nil), defaultBrowsers...)
	}
	out := make([]string, 0, len(parsed))
	for _, b := range parsed {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultBrowsers...)
	}
	return out
}

// newPolicyVersionToken generates the opaque, monotonically meaningful
// version token: the current unix time in milliseconds.
func newPolicyVersionToken() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// policyInput is the caller-supplied policy payload for upserts.
type policyInput struct {
	ComputerID                   int64    `json:"computerId"`
	PolicyVersion                string   `json:"policyVersion"`
	CollectionIntervalSec        int      `json:"collectionIntervalSec"`
	HeartbeatIntervalSec         int      `json:"heartbeatIntervalSec"`
	FlushIntervalSec             int      `json:"flushIntervalSec"`
	EnableProcessCollection      bool     `json:"enableProcessCollection"`
	EnableBrowserCollection      bool     `json:"enableBrowserCollection"`
	EnableActiveWindowCollection bool     `json:"enableActiveWindowCollection"`
	EnableIdleCollection         bool     `json:"enableIdleCollection"`
	IdleThresholdSec             int      `json:"idleThresholdSec"`
	BrowserPollIntervalSec       int      `json:"browserPollIntervalSec"`
	ProcessSnapshotLimit         int      `json:"processSnapshotLimit"`
	HighRiskThreshold            float32  `json:"highRiskThreshold"`
	AutoLockEnabled              bool     `json:"autoLockEnabled"`
	AdminBlocked                 bool     `json:"adminBlocked"`
	BlockedReason                string   `json:"blockedReason"`
	Browsers                     []string `json:"browsers"`
}

// applyPolicyInput validates the input into the entity. Every numeric
// field is clamped independently; the version token is taken from the
// caller when supplied, kept when already set, and freshly generated
// otherwise.
func applyPolicyInput(p *AgentPolicy, in *policyInput, agent *Agent) {
	p.AgentID = agent.ID
	if in.ComputerID > 0 {
		p.ComputerID = in.ComputerID
	} else {
		p.ComputerID = agent.ComputerID
	}

	switch version := strings.TrimSpace(in.PolicyVersion); {
	case version != "":
		p.PolicyVersion = version
	case p.PolicyVersion != "":
		// keep the current token
	default:
		p.PolicyVersion = newPolicyVersionToken()
	}

	p.CollectionIntervalSec = clampInt(in.CollectionIntervalSec, 1, 3600, defaultCollectionIntervalSec)
	p.HeartbeatIntervalSec = clampInt(in.HeartbeatIntervalSec, 5, 3600, defaultHeartbeatIntervalSec)
	p.FlushIntervalSec = clampInt(in.FlushIntervalSec, 1, 3600, defaultFlushIntervalSec)
	p.EnableProcessCollection = in.EnableProcessCollection
	p.EnableBrowserCollection = in.EnableBrowserCollection
	p.EnableActiveWindowCollection = in.EnableActiveWindowCollection
	p.EnableIdleCollection = in.EnableIdleCollection
	p.IdleThresholdSec = clampInt(in.IdleThresholdSec, 1, 86400, defaultIdleThresholdSec)
	p.BrowserPollIntervalSec = clampInt(in.BrowserPollIntervalSec, 1, 3600, defaultBrowserPollSec)
	p.ProcessSnapshotLimit = clampInt(in.ProcessSnapshotLimit, 1, 500, defaultProcessSnapshotLimit)
	if in.HighRiskThreshold <= 0 {
		p.HighRiskThreshold = defaultHighRiskThreshold
	} else {
		p.HighRiskThreshold = in.HighRiskThreshold
	}
	p.AutoLockEnabled = in.AutoLockEnabled
	p.AdminBlocked = in.AdminBlocked
	p.BlockedReason = strings.TrimSpace(in.BlockedReason)
	p.BrowsersJSON = encodeBrowsers(normalizeBrowsers(in.Browsers))
	p.UpdatedAt = time.Now().UTC()
}

// defaultPolicy synthesizes the policy an agent receives before any
// operator has configured one.
func defaultPolicy(agent *Agent) *AgentPolicy {
	return &AgentPolicy{
		AgentID:                      agent.ID,
		ComputerID:                   agent.ComputerID,
		PolicyVersion:                newPolicyVersionToken(),
		CollectionIntervalSec:        defaultCollectionIntervalSec,
		HeartbeatIntervalSec:         defaultHeartbeatIntervalSec,
		FlushIntervalSec:             defaultFlushIntervalSec,
		EnableProcessCollection:      true,
		EnableBrowserCollection:      true,
		EnableActiveWindowCollection: true,
		EnableIdleCollection:         true,
		IdleThresholdSec:             defaultIdleThresholdSec,
		BrowserPollIntervalSec:       defaultBrowserPollSec,
		ProcessSnapshotLimit:         defaultProcessSnapshotLimit,
		HighRiskThreshold:            defaultHighRiskThreshold,
		AutoLockEnabled:              true,
		BrowsersJSON:                 encodeBrowsers(defaultBrowsers),
		UpdatedAt:                    time.Now().UTC(),
	}
}

// policySnapshot is the self-describing serialization stored in version
// rows. Signature fields are deliberately excluded: a snapshot captures
// content, and restored policies are re-signed on the way out.
type policySnapshot struct {
	Schema                       int      `json:"schema"`
	ComputerID                   int64    `json:"computerId"`
	PolicyVersion                string   `json:"policyVersion"`
	CollectionIntervalSec        int      `json:"collectionIntervalSec"`
	HeartbeatIntervalSec         int      `json:"heartbeatIntervalSec"`
	FlushIntervalSec             int      `json:"flushIntervalSec"`
	EnableProcessCollection      bool     `json:"enableProcessCollection"`
	EnableBrowserCollection      bool     `json:"enableBrowserCollection"`
	EnableActiveWindowCollection bool     `json:"enableActiveWindowCollection"`
	EnableIdleCollection         bool     `json:"enableIdleCollection"`
	IdleThresholdSec             int      `json:"idleThresholdSec"`
	BrowserPollIntervalSec       int      `json:"browserPollIntervalSec"`
	ProcessSnapshotLimit         int      `json:"processSnapshotLimit"`
	HighRiskThreshold            float32  `json:"highRiskThreshold"`
	AutoLockEnabled              bool     `json:"autoLockEnabled"`
	AdminBlocked                 bool     `json:"adminBlocked"`
	BlockedReason                string   `json:"blockedReason"`
	Browsers                     []string `json:"browsers"`
}

func snapshotFromPolicy(p *AgentPolicy) *policySnapshot {
	return &policySnapshot{
		Schema:                       snapshotSchemaVersion,
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
		Browsers:                     parseBrowsers(p.BrowsersJSON),
	}
}

var errCorruptSnapshot = errors.New("policy snapshot is corrupted")

// decodeSnapshot parses stored snapshot JSON. A row that cannot be decoded
// aborts the restore instead of guessing at intent. Rows written before
// snapshots carried a schema tag decode fine; browsers default when empty.
func decodeSnapshot(raw string) (*policySnapshot, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errCorruptSnapshot
	}
	var snapshot policySnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, errCorruptSnapshot
	}
	if len(snapshot.Browsers) == 0 {
		snapshot.Browsers = append([]string(nil), defaultBrowsers...)
	}
	return &snapshot, nil
}

func (snap *policySnapshot) toInput(agentID uint) *policyInput {
	return &policyInput{
		ComputerID:                   snap.ComputerID,
		PolicyVersion:                snap.PolicyVersion,
		CollectionIntervalSec:        snap.CollectionIntervalSec,
		HeartbeatIntervalSec:         snap.HeartbeatIntervalSec,
		FlushIntervalSec:             snap.FlushIntervalSec,
		EnableProcessCollection:      snap.EnableProcessCollection,
		EnableBrowserCollection:      snap.EnableBrowserCollection,
		EnableActiveWindowCollection: snap.EnableActiveWindowCollection,
		EnableIdleCollection:         snap.EnableIdleCollection,
		IdleThresholdSec:             snap.IdleThresholdSec,
		BrowserPollIntervalSec:       snap.BrowserPollIntervalSec,
		ProcessSnapshotLimit:         snap.ProcessSnapshotLimit,
		HighRiskThreshold:            snap.HighRiskThreshold,
		AutoLockEnabled:              snap.AutoLockEnabled,
		AdminBlocked:                 snap.AdminBlocked,
		BlockedReason:                snap.BlockedReason,
		Browsers:                     snap.Browsers,
	}
}

func normalizeChangeType(value string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case "create", "update", "delete", "rollback":
		return normalized
	default:
		return "update"
	}
}

// savePolicySnapshot appends one immutable version row for a policy
// mutation. Every mutation, including delete, records exactly one row.
func savePolicySnapshot(tx *gorm.DB, p *AgentPolicy, changeType, changedBy string) error {
	data, err := json.Marshal(snapshotFromPolicy(p))
	if err != nil {
		return err
	}
	version := p.PolicyVersion
	if version == "" {
		version = "1"
	}
	changedBy = strings.TrimSpace(changedBy)
	if changedBy == "" {
		changedBy = "system"
	}
	row := AgentPolicyVersion{
		AgentID:       p.AgentID,
		PolicyVersion: version,
		ChangeType:    normalizeChangeType(changeType),
		ChangedBy:     changedBy,
		SnapshotJSON:  string(data),
		CreatedAt:     time.Now().UTC(),
	}
	return tx.Create(&row).Error
}
