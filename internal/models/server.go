package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ToolType discriminates the kind of tool a server entry catalogs.
//
// The column is plain text so new tool kinds can be introduced without a
// schema migration; unknown values are preserved as-is.
type ToolType string

// Known tool types.
const (
	ToolTypeMCP         ToolType = "mcp"
	ToolTypeClaudeSkill ToolType = "claude_skill"
)

// NormalizeToolType trims a tool type and applies the default.
func NormalizeToolType(raw string) ToolType {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ToolTypeMCP
	}
	return ToolType(trimmed)
}

// Server categories assignable by the crawler classifier.
var ValidCategories = map[string]struct{}{
	"database":     {},
	"browser":      {},
	"filesystem":   {},
	"code":         {},
	"productivity": {},
	"api":          {},
	"search":       {},
	"other":        {},
}

// Server is one cataloged tool server discovered on GitHub.
type Server struct {
	ID string `gorm:"type:uuid;primaryKey"` // Primary key (UUID).

	RepoURL  string `gorm:"type:text;not null;uniqueIndex"` // Canonical repository URL (natural key).
	Name     string `gorm:"type:text;not null"`             // Display name.
	Owner    string `gorm:"type:text"`                      // Repository owner login.
	RepoName string `gorm:"type:text"`                      // Repository name without owner.

	Description   string         `gorm:"type:text"`                        // Short description, truncated to 500 chars.
	Category      string         `gorm:"type:text;not null;index"`         // Classifier category label.
	Topics        datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Repository topic tags.
	ReadmeSummary string         `gorm:"type:text"`                        // Extracted README summary.
	ToolType      ToolType       `gorm:"type:text;not null;default:mcp"`   // Tool kind discriminant.

	Stars         int        `gorm:"not null;default:0"` // Stargazer count at last crawl.
	ForkCount     int        `gorm:"not null;default:0"` // Fork count at last crawl.
	OpenIssues    int        `gorm:"not null;default:0"` // Open issue count at last crawl.
	PushedAt      *time.Time // Last push time reported by GitHub.
	RepoCreatedAt *time.Time // Repository creation time reported by GitHub.

	Stars7dAgo       int        `gorm:"column:stars_7d_ago;not null;default:0"` // Star count captured at the last velocity seed.
	VelocitySeededAt *time.Time // When Stars7dAgo was last captured.
	Velocity7d       int        `gorm:"column:velocity_7d;not null;default:0"` // Star delta over the trailing seed window.

	QualityScore   float64        `gorm:"not null;default:0;index"`         // Composite quality score.
	ScoreBreakdown datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Per-dimension contributions.
	RankInCategory int            `gorm:"not null;default:0"`               // Rank within (category, tool_type).
	ScoreUpdatedAt *time.Time     // Last scoring run that touched this row.

	IsActive         bool `gorm:"not null;default:true;index"`  // Whether the entry is listed.
	HealthCheckOptIn bool `gorm:"not null;default:false;index"` // Owner consent for liveness probing.

	LastCrawledAt *time.Time // Last crawler visit.
	CreatedAt     time.Time  `gorm:"not null;autoCreateTime"` // Row creation timestamp.
	UpdatedAt     time.Time  `gorm:"not null;autoUpdateTime"` // Last modification timestamp.
}

// TableName overrides the default table name.
func (Server) TableName() string {
	return "mcp_servers"
}

// BeforeCreate assigns a UUID when none is set.
func (s *Server) BeforeCreate(*gorm.DB) error {
	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
