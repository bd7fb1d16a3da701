package quota

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mcphub-dev/mcphub/internal/db"
	"github.com/mcphub-dev/mcphub/internal/models"
	"github.com/mcphub-dev/mcphub/internal/security"
)

func setupGate(t *testing.T) *Gate {
	t.Helper()
	conn, errOpen := db.Open(filepath.Join(t.TempDir(), "quota.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	// One writer connection keeps transactions serialized the same way a
	// single-node deployment behaves under contention.
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewGate(conn)
}

func seedKey(t *testing.T, gate *Gate, rawKey string, plan string, limit, count int64, lastReset time.Time) {
	t.Helper()
	key := &models.APIKey{
		UserEmail:   "owner@example.com",
		KeyHash:     security.HashAPIKey(rawKey),
		Plan:        plan,
		ReqCount:    count,
		ReqLimit:    limit,
		LastResetAt: lastReset,
		IsActive:    true,
	}
	if errCreate := gate.db.Create(key).Error; errCreate != nil {
		t.Fatalf("seed key: %v", errCreate)
	}
}

func TestConsumeUnknownKeyFailsAuth(t *testing.T) {
	gate := setupGate(t)
	outcome, errConsume := gate.Consume(context.Background(), "mhub_not_a_real_key")
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if outcome.Decision != DecisionAuthFailed {
		t.Fatalf("expected auth failure, got %v", outcome.Decision)
	}
}

func TestConsumeInactiveKeyFailsAuth(t *testing.T) {
	gate := setupGate(t)
	rawKey := "mhub_inactive"
	seedKey(t, gate, rawKey, models.PlanFree, 100, 0, time.Now().UTC())
	errUpdate := gate.db.Model(&models.APIKey{}).
		Where("key_hash = ?", security.HashAPIKey(rawKey)).
		Update("is_active", false).Error
	if errUpdate != nil {
		t.Fatalf("deactivate: %v", errUpdate)
	}

	outcome, errConsume := gate.Consume(context.Background(), rawKey)
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if outcome.Decision != DecisionAuthFailed {
		t.Fatalf("expected auth failure for inactive key, got %v", outcome.Decision)
	}
}

func TestConsumeIncrementsAndReportsCount(t *testing.T) {
	gate := setupGate(t)
	rawKey := "mhub_counting"
	seedKey(t, gate, rawKey, models.PlanFree, 100, 0, time.Now().UTC())

	for want := int64(1); want <= 3; want++ {
		outcome, errConsume := gate.Consume(context.Background(), rawKey)
		if errConsume != nil {
			t.Fatalf("consume %d: %v", want, errConsume)
		}
		if outcome.Decision != DecisionOK {
			t.Fatalf("consume %d: expected OK, got %v", want, outcome.Decision)
		}
		if outcome.Count != want {
			t.Fatalf("consume %d: expected count %d, got %d", want, want, outcome.Count)
		}
	}
}

func TestConsumeAtLimitIsRateLimited(t *testing.T) {
	gate := setupGate(t)
	rawKey := "mhub_exhausted"
	seedKey(t, gate, rawKey, models.PlanFree, 100, 100, time.Now().UTC())

	outcome, errConsume := gate.Consume(context.Background(), rawKey)
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if outcome.Decision != DecisionRateLimited {
		t.Fatalf("expected rate limited, got %v", outcome.Decision)
	}
	if outcome.Count != 100 || outcome.Limit != 100 {
		t.Fatalf("expected pre-increment state 100/100, got %d/%d", outcome.Count, outcome.Limit)
	}

	var key models.APIKey
	if errFind := gate.db.Where("key_hash = ?", security.HashAPIKey(rawKey)).First(&key).Error; errFind != nil {
		t.Fatalf("load key: %v", errFind)
	}
	if key.ReqCount != 100 {
		t.Fatalf("rejected request must not increment: got %d", key.ReqCount)
	}
}

func TestConsumeConcurrentFinalSlot(t *testing.T) {
	gate := setupGate(t)
	rawKey := "mhub_final_slot"
	seedKey(t, gate, rawKey, models.PlanFree, 100, 99, time.Now().UTC())

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			outcomes[idx], errs[idx] = gate.Consume(context.Background(), rawKey)
		}(i)
	}
	wg.Wait()

	ok, limited := 0, 0
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("consume %d: %v", i, errs[i])
		}
		switch outcomes[i].Decision {
		case DecisionOK:
			ok++
		case DecisionRateLimited:
			limited++
		default:
			t.Fatalf("consume %d: unexpected decision %v", i, outcomes[i].Decision)
		}
	}
	if ok != 1 || limited != 1 {
		t.Fatalf("expected exactly one success and one rate limit, got ok=%d limited=%d", ok, limited)
	}

	var key models.APIKey
	if errFind := gate.db.Where("key_hash = ?", security.HashAPIKey(rawKey)).First(&key).Error; errFind != nil {
		t.Fatalf("load key: %v", errFind)
	}
	if key.ReqCount != 100 {
		t.Fatalf("expected final count 100, got %d", key.ReqCount)
	}
}

func TestConsumeMonthRolloverResetsThenCounts(t *testing.T) {
	gate := setupGate(t)
	rawKey := "mhub_rollover"
	lastMonth := time.Now().UTC().AddDate(0, -1, 0)
	seedKey(t, gate, rawKey, models.PlanFree, 100, 87, lastMonth)

	outcome, errConsume := gate.Consume(context.Background(), rawKey)
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if outcome.Decision != DecisionOK {
		t.Fatalf("expected OK after rollover, got %v", outcome.Decision)
	}
	if outcome.Count != 1 {
		t.Fatalf("expected count reset then incremented to 1, got %d", outcome.Count)
	}

	var key models.APIKey
	if errFind := gate.db.Where("key_hash = ?", security.HashAPIKey(rawKey)).First(&key).Error; errFind != nil {
		t.Fatalf("load key: %v", errFind)
	}
	if key.ReqCount != 1 {
		t.Fatalf("expected stored count 1, got %d", key.ReqCount)
	}
	if key.LastResetAt.Before(lastMonth.Add(time.Hour)) {
		t.Fatalf("expected last reset stamped in the new month")
	}
}

func TestConsumeRolloverOverQuotaKeyAdmitsAgain(t *testing.T) {
	gate := setupGate(t)
	rawKey := "mhub_rollover_exhausted"
	lastMonth := time.Now().UTC().AddDate(0, -1, 0)
	seedKey(t, gate, rawKey, models.PlanFree, 100, 100, lastMonth)

	outcome, errConsume := gate.Consume(context.Background(), rawKey)
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if outcome.Decision != DecisionOK || outcome.Count != 1 {
		t.Fatalf("expected fresh month to admit with count 1, got %v count=%d", outcome.Decision, outcome.Count)
	}
}

func TestConsumeUnlimitedPlanNeverRateLimits(t *testing.T) {
	gate := setupGate(t)
	rawKey := "mhub_enterprise"
	seedKey(t, gate, rawKey, models.PlanEnterprise, 0, 999999, time.Now().UTC())

	outcome, errConsume := gate.Consume(context.Background(), rawKey)
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if outcome.Decision != DecisionOK {
		t.Fatalf("expected unlimited plan to admit, got %v", outcome.Decision)
	}
}

func TestIssueRejectsDuplicateEmail(t *testing.T) {
	gate := setupGate(t)
	ctx := context.Background()

	rawKey, key, errIssue := gate.Issue(ctx, "Dev@Example.com", models.PlanBasic)
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}
	if key.UserEmail != "dev@example.com" {
		t.Fatalf("expected normalized email, got %s", key.UserEmail)
	}
	if key.ReqLimit != models.PlanLimits[models.PlanBasic] {
		t.Fatalf("expected basic plan limit, got %d", key.ReqLimit)
	}

	if _, _, errDup := gate.Issue(ctx, "dev@example.com", models.PlanFree); errDup != ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken, got %v", errDup)
	}

	// The issued key authenticates through the gate.
	outcome, errConsume := gate.Consume(ctx, rawKey)
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if outcome.Decision != DecisionOK {
		t.Fatalf("issued key should authenticate, got %v", outcome.Decision)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	gate := setupGate(t)
	rawKey := "mhub_peeked"
	seedKey(t, gate, rawKey, models.PlanFree, 100, 42, time.Now().UTC())

	for i := 0; i < 3; i++ {
		outcome, errPeek := gate.Peek(context.Background(), rawKey)
		if errPeek != nil {
			t.Fatalf("peek %d: %v", i, errPeek)
		}
		if outcome.Count != 42 {
			t.Fatalf("peek %d: expected count 42, got %d", i, outcome.Count)
		}
	}

	var key models.APIKey
	if errFind := gate.db.Where("key_hash = ?", security.HashAPIKey(rawKey)).First(&key).Error; errFind != nil {
		t.Fatalf("load key: %v", errFind)
	}
	if key.ReqCount != 42 {
		t.Fatalf("peek must not increment: got %d", key.ReqCount)
	}
}
