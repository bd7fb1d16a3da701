package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcphub-dev/mcphub/internal/db"
	"github.com/mcphub-dev/mcphub/internal/models"
	"github.com/mcphub-dev/mcphub/internal/security"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Decision is the terminal outcome of one Consume call.
type Decision int

const (
	// DecisionAuthFailed means the key is unknown or inactive.
	DecisionAuthFailed Decision = iota
	// DecisionRateLimited means the key is valid but out of budget.
	DecisionRateLimited
	// DecisionOK means the request was admitted and counted.
	DecisionOK
)

// Outcome reports the quota state observed by one Consume call. For
// DecisionOK the count includes the admitted request; for
// DecisionRateLimited it is the pre-increment count.
type Outcome struct {
	Decision  Decision
	UserEmail string
	Plan      string
	Count     int64
	Limit     int64
	ResetAt   time.Time
}

// Gate performs atomic admission control per credential. Validation,
// month rollover, limit check, and increment happen as one indivisible
// operation per key, so concurrent requests can never overshoot a limit.
type Gate struct {
	db *gorm.DB
}

// NewGate constructs a Gate.
func NewGate(conn *gorm.DB) *Gate {
	return &Gate{db: conn}
}

// DB exposes the underlying connection.
func (g *Gate) DB() *gorm.DB { return g.db }

// Consume validates the raw key, resets its counter when the calendar
// month rolled over, checks the limit, and increments usage, all within a
// single transaction on the credential row.
func (g *Gate) Consume(ctx context.Context, rawKey string) (*Outcome, error) {
	if g == nil || g.db == nil {
		return nil, errors.New("quota: gate not initialized")
	}
	if rawKey == "" {
		return &Outcome{Decision: DecisionAuthFailed}, nil
	}
	keyHash := security.HashAPIKey(rawKey)
	now := time.Now().UTC()

	outcome := &Outcome{Decision: DecisionAuthFailed}
	errTx := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("key_hash = ? AND is_active = ?", keyHash, true)
		// SQLite serializes writers on its own; the row lock is only
		// meaningful (and only valid syntax) on postgres.
		if !db.IsSQLite(tx) {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var key models.APIKey
		errFind := query.First(&key).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			outcome.Decision = DecisionAuthFailed
			return nil
		}
		if errFind != nil {
			return fmt.Errorf("quota: lookup key: %w", errFind)
		}

		if monthRolledOver(key.LastResetAt, now) {
			errReset := tx.Model(&models.APIKey{}).
				Where("id = ?", key.ID).
				Updates(map[string]any{"req_count": 0, "last_reset_at": now}).Error
			if errReset != nil {
				return fmt.Errorf("quota: reset counter: %w", errReset)
			}
			key.ReqCount = 0
			key.LastResetAt = now
		}

		outcome.UserEmail = key.UserEmail
		outcome.Plan = key.Plan
		outcome.Limit = key.ReqLimit
		outcome.ResetAt = key.LastResetAt

		if key.ReqLimit > 0 && key.ReqCount >= key.ReqLimit {
			outcome.Decision = DecisionRateLimited
			outcome.Count = key.ReqCount
			return nil
		}

		// Guarded increment: the WHERE clause re-checks the budget so two
		// transactions racing past the read above cannot both land the
		// final slot.
		increment := tx.Model(&models.APIKey{}).Where("id = ?", key.ID)
		if key.ReqLimit > 0 {
			increment = increment.Where("req_count < ?", key.ReqLimit)
		}
		result := increment.Update("req_count", gorm.Expr("req_count + 1"))
		if result.Error != nil {
			return fmt.Errorf("quota: increment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			outcome.Decision = DecisionRateLimited
			outcome.Count = key.ReqLimit
			return nil
		}

		outcome.Decision = DecisionOK
		outcome.Count = key.ReqCount + 1
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return outcome, nil
}

// Peek returns the current quota state for a key without consuming a
// request.
func (g *Gate) Peek(ctx context.Context, rawKey string) (*Outcome, error) {
	if g == nil || g.db == nil {
		return nil, errors.New("quota: gate not initialized")
	}
	keyHash := security.HashAPIKey(rawKey)

	var key models.APIKey
	errFind := g.db.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", keyHash, true).
		First(&key).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return &Outcome{Decision: DecisionAuthFailed}, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("quota: lookup key: %w", errFind)
	}

	count := key.ReqCount
	resetAt := key.LastResetAt
	if monthRolledOver(key.LastResetAt, time.Now().UTC()) {
		count = 0
	}
	return &Outcome{
		Decision:  DecisionOK,
		UserEmail: key.UserEmail,
		Plan:      key.Plan,
		Count:     count,
		Limit:     key.ReqLimit,
		ResetAt:   resetAt,
	}, nil
}

// monthRolledOver reports whether now falls in a later UTC calendar month
// than the last reset.
func monthRolledOver(lastReset, now time.Time) bool {
	lastReset = lastReset.UTC()
	now = now.UTC()
	return now.Year() > lastReset.Year() ||
		(now.Year() == lastReset.Year() && now.Month() > lastReset.Month())
}
