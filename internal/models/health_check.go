package models

import "time"

// Health statuses recorded by the prober.
const (
	HealthStatusUp      = "up"
	HealthStatusDown    = "down"
	HealthStatusUnknown = "unknown"
)

// HealthCheck is one probe outcome for a server. Rows are append-only and
// are never mutated after insert.
type HealthCheck struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ServerID string  `gorm:"type:uuid;not null;index"`                                // Probed server ID.
	Server   *Server `gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"` // Owning server row.

	Status         string  `gorm:"type:text;not null"` // up, down, or unknown.
	ResponseTimeMs *int    // Probe latency in milliseconds when a response arrived.
	HTTPStatus     *int    // Raw HTTP status code when a response arrived.
	ErrorMessage   *string `gorm:"type:text"` // Failure detail for down outcomes.

	CheckedAt time.Time `gorm:"not null;index"` // Probe timestamp.
}

// TableName overrides the default table name.
func (HealthCheck) TableName() string {
	return "health_checks"
}

// ServerHealthLatest is the denormalized most-recent probe outcome per
// server, kept in step with health_checks inside the prober transaction so
// discovery queries avoid a max-per-group scan. It carries no state of its
// own and can always be rebuilt from the history log.
type ServerHealthLatest struct {
	ServerID string  `gorm:"type:uuid;primaryKey"`                            // Server ID.
	Server   *Server `gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"` // Owning server row.

	Status         string    `gorm:"type:text;not null"` // Latest status.
	ResponseTimeMs *int      // Latest probe latency.
	CheckedAt      time.Time `gorm:"not null"` // Latest probe timestamp.
}

// TableName overrides the default table name.
func (ServerHealthLatest) TableName() string {
	return "server_health_latest"
}
