package models

import "time"

// ScoreSnapshot is a point-in-time copy of a server's score and rank,
// written once per scoring run and used for trend queries. Append-only.
type ScoreSnapshot struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ServerID string  `gorm:"type:uuid;not null;index"`                        // Scored server ID.
	Server   *Server `gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"` // Owning server row.

	QualityScore   float64 `gorm:"not null"` // Composite score at snapshot time.
	RankInCategory int     `gorm:"not null"` // Category rank at snapshot time.

	RecordedAt time.Time `gorm:"not null;index"` // Snapshot timestamp.
}

// TableName overrides the default table name.
func (ScoreSnapshot) TableName() string {
	return "score_history"
}
