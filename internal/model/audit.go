package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is one API request as seen by the gateway.
type AuditLog struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string `gorm:"size:64;index:idx_audit_tenant,priority:1" json:"tenant_id"`
	Method    string `gorm:"size:8" json:"method"`
	Path      string `json:"path"`
	IP        string `gorm:"size:64" json:"ip"`
	UserAgent string `json:"user_agent"`

	// bodies are redacted before they reach here
	RequestBody  string `json:"request_body"`
	StatusCode   int    `json:"status_code"`
	ResponseBody string `json:"response_body"`
	LatencyMs    int64  `json:"latency_ms"`

	// ledger context added by handlers: transaction ids, fraud verdicts, error codes
	Context datatypes.JSONMap `json:"context"`

	CreatedAt time.Time `gorm:"index:idx_audit_tenant,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
