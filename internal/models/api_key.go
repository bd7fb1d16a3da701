package models

import "time"

// Plan tiers and their monthly request limits. A limit of zero means
// unlimited.
const (
	PlanFree       = "free"
	PlanBasic      = "basic"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// PlanLimits maps plan tiers to monthly request limits.
var PlanLimits = map[string]int64{
	PlanFree:       100,
	PlanBasic:      5000,
	PlanPro:        30000,
	PlanEnterprise: 0,
}

// APIKey holds the quota state for one issued credential. The row is
// mutated exclusively by the quota gate.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserEmail string `gorm:"type:text;not null;index"`       // Owner contact address.
	KeyHash   string `gorm:"type:text;not null;uniqueIndex"` // SHA-256 hex of the raw key.

	Plan     string `gorm:"type:text;not null;default:free"` // Plan tier.
	ReqCount int64  `gorm:"not null;default:0"`              // Requests consumed this period.
	ReqLimit int64  `gorm:"not null;default:100"`            // Period request limit (0 = unlimited).

	LastResetAt time.Time `gorm:"not null"`              // Start of the current counting period.
	IsActive    bool      `gorm:"not null;default:true"` // Whether the key is accepted.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Issuance timestamp.
}

// TableName overrides the default table name.
func (APIKey) TableName() string {
	return "api_keys"
}
