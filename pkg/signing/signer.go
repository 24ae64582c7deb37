// Package signing produces keyed integrity tags for control-plane payloads.
//
// Agents receive policies and commands over transports the control plane
// does not trust end to end. Each outgoing record is serialized into a
// fixed, unambiguous byte form and stamped with an HMAC-SHA256 digest so
// the agent can detect tampering. The server only signs; verification is
// the agent's job.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Algorithm identifies the signature scheme attached to signed records.
const Algorithm = "hmac-sha256-v1"

// Policy is the wire form of an agent's configuration policy.
type Policy struct {
	ID                           int64    `json:"id"`
	AgentID                      int64    `json:"agentId"`
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
	UpdatedAt                    string   `json:"updatedAt"`
	Browsers                     []string `json:"browsers"`
	Signature                    string   `json:"signature,omitempty"`
	SignatureKeyID               string   `json:"signatureKeyId,omitempty"`
	SignatureAlg                 string   `json:"signatureAlg,omitempty"`
}

// Command is the wire form of a queued agent instruction.
type Command struct {
	ID             int64  `json:"id"`
	AgentID        int64  `json:"agentId"`
	Type           string `json:"type"`
	PayloadJSON    string `json:"payloadJson"`
	Status         string `json:"status"`
	RequestedBy    string `json:"requestedBy"`
	ResultMessage  string `json:"resultMessage"`
	CreatedAt      string `json:"createdAt"`
	AcknowledgedAt string `json:"acknowledgedAt"`
	Signature      string `json:"signature,omitempty"`
	SignatureKeyID string `json:"signatureKeyId,omitempty"`
	SignatureAlg   string `json:"signatureAlg,omitempty"`
}

// Signer computes signatures with a process-wide shared secret. An empty
// secret disables signing for the lifetime of the Signer: records go out
// unsigned and the degradation is logged once, not per call.
type Signer struct {
	secret       []byte
	keyID        string
	logger       zerolog.Logger
	disabledOnce sync.Once
}

// New builds a Signer from the configured secret and key id. The key id
// falls back to "default" when blank.
func New(secret, keyID string, logger zerolog.Logger) *Signer {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = "default"
	}

	s := &Signer{keyID: keyID, logger: logger}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		logger.Warn().Msg("control-plane signing is disabled (no secret configured)")
		return s
	}

	s.secret = []byte(secret)
	logger.Info().Str("key_id", keyID).Str("alg", Algorithm).Msg("control-plane signing enabled")
	return s
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

// KeyID returns the identifier attached to signatures.
func (s *Signer) KeyID() string {
	return s.keyID
}

// SignPolicy attaches a signature triple to the policy. No-op when disabled.
func (s *Signer) SignPolicy(p *Policy) {
	if !s.ensureEnabled() {
		return
	}
	p.SignatureKeyID = s.keyID
	p.SignatureAlg = Algorithm
	p.Signature = s.computeHex(canonicalPolicy(p))
}

// SignCommand attaches a signature triple to the command. No-op when disabled.
func (s *Signer) SignCommand(c *Command) {
	if !s.ensureEnabled() {
		return
	}
	c.SignatureKeyID = s.keyID
	c.SignatureAlg = Algorithm
	c.Signature = s.computeHex(canonicalCommand(c))
}

func (s *Signer) ensureEnabled() bool {
	if s.Enabled() {
		return true
	}
	s.disabledOnce.Do(func() {
		s.logger.Debug().Msg("skipping control-plane signature: signing disabled")
	})
	return false
}

func (s *Signer) computeHex(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Canonical form: one key=value line per field in fixed order. Strings are
// base64-encoded so a value can never collide with the separator or with an
// adjacent field. Floats are written as the decimal value of their raw bit
// pattern to keep the signature exact-bitwise across platforms. Lists write
// their length before their indexed elements, so empty and absent encode
// identically and element boundaries are unambiguous.

func canonicalPolicy(p *Policy) []byte {
	var b bytes.Buffer
	b.Grow(512)
	appendString(&b, "kind", "policy")
	appendInt(&b, "id", p.ID)
	appendInt(&b, "agent_id", p.AgentID)
	appendInt(&b, "computer_id", p.ComputerID)
	appendString(&b, "policy_version", p.PolicyVersion)
	appendInt(&b, "collection_interval_sec", int64(p.CollectionIntervalSec))
	appendInt(&b, "heartbeat_interval_sec", int64(p.HeartbeatIntervalSec))
	appendInt(&b, "flush_interval_sec", int64(p.FlushIntervalSec))
	appendBool(&b, "enable_process_collection", p.EnableProcessCollection)
	appendBool(&b, "enable_browser_collection", p.EnableBrowserCollection)
	appendBool(&b, "enable_active_window_collection", p.EnableActiveWindowCollection)
	appendBool(&b, "enable_idle_collection", p.EnableIdleCollection)
	appendInt(&b, "idle_threshold_sec", int64(p.IdleThresholdSec))
	appendInt(&b, "browser_poll_interval_sec", int64(p.BrowserPollIntervalSec))
	appendInt(&b, "process_snapshot_limit", int64(p.ProcessSnapshotLimit))
	appendFloat32Bits(&b, "high_risk_threshold_f32bits", p.HighRiskThreshold)
	appendBool(&b, "auto_lock_enabled", p.AutoLockEnabled)
	appendBool(&b, "admin_blocked", p.AdminBlocked)
	appendString(&b, "blocked_reason", p.BlockedReason)
	appendString(&b, "updated_at", p.UpdatedAt)
	appendStringList(&b, "browsers", p.Browsers)
	return b.Bytes()
}

func canonicalCommand(c *Command) []byte {
	var b bytes.Buffer
	b.Grow(384)
	appendString(&b, "kind", "command")
	appendInt(&b, "id", c.ID)
	appendInt(&b, "agent_id", c.AgentID)
	appendString(&b, "type", c.Type)
	appendString(&b, "payload_json", c.PayloadJSON)
	appendString(&b, "status", c.Status)
	appendString(&b, "requested_by", c.RequestedBy)
	appendString(&b, "result_message", c.ResultMessage)
	appendString(&b, "created_at", c.CreatedAt)
	appendString(&b, "acknowledged_at", c.AcknowledgedAt)
	return b.Bytes()
}

func appendInt(b *bytes.Buffer, key string, value int64) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(strconv.FormatInt(value, 10))
	b.WriteByte('\n')
}

func appendBool(b *bytes.Buffer, key string, value bool) {
	b.WriteString(key)
	b.WriteByte('=')
	if value {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	b.WriteByte('\n')
}

func appendFloat32Bits(b *bytes.Buffer, key string, value float32) {
	appendInt(b, key, int64(int32(math.Float32bits(value))))
}

func appendString(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(value)))
	b.WriteByte('\n')
}

func appendStringList(b *bytes.Buffer, key string, values []string) {
	b.WriteString(key)
	b.WriteString("_count=")
	b.WriteString(strconv.Itoa(len(values)))
	b.WriteByte('\n')
	for i, v := range values {
		appendString(b, key+"_"+strconv.Itoa(i), v)
	}
}
