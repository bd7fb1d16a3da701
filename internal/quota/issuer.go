package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcphub-dev/mcphub/internal/models"
	"github.com/mcphub-dev/mcphub/internal/security"
	"gorm.io/gorm"
)

// ErrEmailTaken indicates the address already owns an active key.
var ErrEmailTaken = errors.New("quota: email already registered")

// Issue creates a credential for the address on the given plan and returns
// the raw key. The raw key is never stored; only its hash is, so this is
// the one chance to see it.
func (g *Gate) Issue(ctx context.Context, email, plan string) (string, *models.APIKey, error) {
	if g == nil || g.db == nil {
		return "", nil, errors.New("quota: gate not initialized")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", nil, errors.New("quota: invalid email")
	}
	limit, known := models.PlanLimits[plan]
	if !known {
		plan = models.PlanFree
		limit = models.PlanLimits[models.PlanFree]
	}

	rawKey, errGen := security.GenerateAPIKey()
	if errGen != nil {
		return "", nil, fmt.Errorf("quota: generate key: %w", errGen)
	}

	key := &models.APIKey{
		UserEmail:   email,
		KeyHash:     security.HashAPIKey(rawKey),
		Plan:        plan,
		ReqLimit:    limit,
		LastResetAt: time.Now().UTC(),
		IsActive:    true,
	}
	errTx := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		errCount := tx.Model(&models.APIKey{}).
			Where("user_email = ? AND is_active = ?", email, true).
			Count(&count).Error
		if errCount != nil {
			return fmt.Errorf("quota: check email: %w", errCount)
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if errCreate := tx.Create(key).Error; errCreate != nil {
			return fmt.Errorf("quota: create key: %w", errCreate)
		}
		return nil
	})
	if errTx != nil {
		return "", nil, errTx
	}
	return rawKey, key, nil
}
