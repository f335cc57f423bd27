package app

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yieldhive/automation-service/internal/domain"
	"github.com/yieldhive/automation-service/internal/store"
)

type engineRepoStub struct {
	store.Repository

	rule        *domain.Rule
	findErr     error
	leaseTaken  bool
	leaseErr    error
	released    bool
	executions  []*domain.Execution
	createErr   error
	scheduleErr error

	// scheduleFailures > 0 makes scheduleErr transient: only the first N
	// UpdateRuleSchedule calls fail.
	scheduleFailures int
	scheduleCalls    int

	scheduledLast *time.Time
	scheduledNext *time.Time
}

func (s *engineRepoStub) FindRuleByID(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID) (*domain.Rule, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.rule, nil
}

func (s *engineRepoStub) AcquireRuleExecutionLease(ctx context.Context, ruleID uuid.UUID, ttl time.Duration) (bool, error) {
	if s.leaseErr != nil {
		return false, s.leaseErr
	}
	return !s.leaseTaken, nil
}

func (s *engineRepoStub) ReleaseRuleExecutionLease(ctx context.Context, ruleID uuid.UUID) error {
	s.released = true
	return nil
}

func (s *engineRepoStub) CreateExecution(ctx context.Context, execution *domain.Execution) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.executions = append(s.executions, execution)
	return nil
}

func (s *engineRepoStub) UpdateRuleSchedule(ctx context.Context, ruleID uuid.UUID, lastExecuted time.Time, nextExecution time.Time) error {
	s.scheduleCalls++
	if s.scheduleErr != nil && (s.scheduleFailures == 0 || s.scheduleCalls <= s.scheduleFailures) {
		return s.scheduleErr
	}
	s.scheduledLast = &lastExecuted
	s.scheduledNext = &nextExecution
	return nil
}

type profitSourceStub struct {
	profit int64
	err    error
}

func (s *profitSourceStub) CurrentAccruedProfit(ctx context.Context, vaultID uuid.UUID, ruleID uuid.UUID) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.profit, nil
}

type publisherStub struct {
	routingKeys []string
}

func (s *publisherStub) PublishExecutionEvent(ctx context.Context, routingKey string, event interface{}) error {
	s.routingKeys = append(s.routingKeys, routingKey)
	return nil
}

func testRule(trigger domain.TriggerKind, distributions ...domain.Distribution) *domain.Rule {
	return &domain.Rule{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		VaultID:       uuid.New(),
		Name:          "test rule",
		Trigger:       trigger,
		Active:        true,
		NextExecution: time.Now().UTC(),
		Distributions: distributions,
	}
}

func storedDist(recipient string, bps int32) domain.Distribution {
	kind := domain.DistributionWallet
	if recipient == domain.ReinvestRecipient {
		kind = domain.DistributionReinvest
	}
	return domain.Distribution{ID: uuid.New(), Recipient: recipient, PercentageBps: bps, Kind: kind}
}

func newTestService(repo *engineRepoStub, profit *profitSourceStub, publisher *publisherStub) *Service {
	return NewService(repo, profit, publisher, 50, 5*time.Minute)
}

func TestExecuteRule_InactiveRuleLeavesNoRecord(t *testing.T) {
	rule := testRule(domain.TriggerWeekly, storedDist("0xabc", 10000))
	rule.Active = false
	repo := &engineRepoStub{rule: rule}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, &publisherStub{})

	_, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if !errors.Is(err, ErrRuleInactive) {
		t.Fatalf("expected ErrRuleInactive, got %v", err)
	}
	if len(repo.executions) != 0 {
		t.Fatalf("expected no execution record, got %d", len(repo.executions))
	}
}

func TestExecuteRule_MissingRuleLeavesNoRecord(t *testing.T) {
	repo := &engineRepoStub{findErr: store.ErrRuleNotFound}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, &publisherStub{})

	_, err := svc.ExecuteRule(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, store.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	if len(repo.executions) != 0 {
		t.Fatalf("expected no execution record, got %d", len(repo.executions))
	}
}

func TestExecuteRule_BelowThresholdLeavesNoRecord(t *testing.T) {
	threshold := int64(50000)
	rule := testRule(domain.TriggerProfitThreshold, storedDist("0xabc", 10000))
	rule.ProfitThreshold = &threshold
	repo := &engineRepoStub{rule: rule}
	svc := newTestService(repo, &profitSourceStub{profit: 49999}, &publisherStub{})

	_, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if !errors.Is(err, ErrInsufficientProfit) {
		t.Fatalf("expected ErrInsufficientProfit, got %v", err)
	}
	if len(repo.executions) != 0 {
		t.Fatalf("expected no execution record, got %d", len(repo.executions))
	}
	if !repo.released {
		t.Fatal("expected lease to be released")
	}
}

func TestExecuteRule_ThresholdTriggerWithoutThresholdRefuses(t *testing.T) {
	rule := testRule(domain.TriggerProfitThreshold, storedDist("0xabc", 10000))
	rule.ProfitThreshold = nil
	repo := &engineRepoStub{rule: rule}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, &publisherStub{})

	_, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if err == nil {
		t.Fatal("expected error for threshold trigger with no stored threshold")
	}
	if errors.Is(err, ErrInsufficientProfit) {
		t.Fatalf("expected a corrupt-state error, not ErrInsufficientProfit: %v", err)
	}
	if len(repo.executions) != 0 {
		t.Fatalf("expected no execution record, got %d", len(repo.executions))
	}
	if !repo.released {
		t.Fatal("expected lease to be released")
	}
}

func TestExecuteRule_ScheduleAdvanceRetriesTransientFailure(t *testing.T) {
	rule := testRule(domain.TriggerWeekly, storedDist("0xabc", 10000))
	repo := &engineRepoStub{rule: rule, scheduleErr: errors.New("connection reset"), scheduleFailures: 1}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, &publisherStub{})

	execution, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if err != nil {
		t.Fatalf("expected execution to succeed, got %v", err)
	}
	if execution.Status != domain.ExecutionCompleted {
		t.Fatalf("expected completed execution, got %s", execution.Status)
	}
	if repo.scheduleCalls != 2 {
		t.Fatalf("expected the schedule write to be retried once, got %d calls", repo.scheduleCalls)
	}
	if repo.scheduledNext == nil {
		t.Fatal("expected next execution to be written on retry")
	}
}

func TestExecuteRule_ScheduleAdvanceFailureDoesNotFailExecution(t *testing.T) {
	rule := testRule(domain.TriggerWeekly, storedDist("0xabc", 10000))
	repo := &engineRepoStub{rule: rule, scheduleErr: errors.New("connection reset")}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, &publisherStub{})

	execution, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if err != nil {
		t.Fatalf("expected execution to succeed despite stale schedule, got %v", err)
	}
	if execution.Status != domain.ExecutionCompleted {
		t.Fatalf("expected completed execution, got %s", execution.Status)
	}
	if repo.scheduleCalls != scheduleAdvanceAttempts {
		t.Fatalf("expected %d schedule attempts, got %d", scheduleAdvanceAttempts, repo.scheduleCalls)
	}
	if len(repo.executions) != 1 {
		t.Fatalf("expected the execution record to be persisted, got %d", len(repo.executions))
	}
}

func TestExecuteRule_LeaseHeldReturnsConflict(t *testing.T) {
	rule := testRule(domain.TriggerWeekly, storedDist("0xabc", 10000))
	repo := &engineRepoStub{rule: rule, leaseTaken: true}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, &publisherStub{})

	_, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if !errors.Is(err, ErrExecutionInProgress) {
		t.Fatalf("expected ErrExecutionInProgress, got %v", err)
	}
	if len(repo.executions) != 0 {
		t.Fatalf("expected no execution record, got %d", len(repo.executions))
	}
}

func TestExecuteRule_ProfitSourceErrorLeavesNoRecord(t *testing.T) {
	rule := testRule(domain.TriggerWeekly, storedDist("0xabc", 10000))
	repo := &engineRepoStub{rule: rule}
	svc := newTestService(repo, &profitSourceStub{err: errors.New("yield API unavailable")}, &publisherStub{})

	_, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if err == nil {
		t.Fatal("expected error when profit source fails")
	}
	if len(repo.executions) != 0 {
		t.Fatalf("expected no execution record, got %d", len(repo.executions))
	}
	if !repo.released {
		t.Fatal("expected lease to be released after fetch failure")
	}
}

func TestExecuteRule_SeventyThirtySplitReconcilesExactly(t *testing.T) {
	// 1000.00 profit at a 0.5% fee: 5.00 fee, 995.00 net, split 70/30 into
	// 696.50 and 298.50.
	rule := testRule(domain.TriggerMonthly, storedDist("0xabc", 7000), storedDist("reinvest", 3000))
	repo := &engineRepoStub{rule: rule}
	publisher := &publisherStub{}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, publisher)

	execution, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if err != nil {
		t.Fatalf("expected execution to succeed, got %v", err)
	}
	if execution.Status != domain.ExecutionCompleted {
		t.Fatalf("expected completed status, got %s", execution.Status)
	}
	if execution.PlatformFee != 500 {
		t.Fatalf("expected fee 500, got %d", execution.PlatformFee)
	}
	if len(execution.Transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(execution.Transfers))
	}
	if execution.Transfers[0].Amount != 69650 {
		t.Fatalf("expected first transfer 69650, got %d", execution.Transfers[0].Amount)
	}
	if execution.Transfers[1].Amount != 29850 {
		t.Fatalf("expected second transfer 29850, got %d", execution.Transfers[1].Amount)
	}
	if execution.Transfers[1].Kind != domain.DistributionReinvest {
		t.Fatalf("expected reinvest kind on second transfer, got %s", execution.Transfers[1].Kind)
	}
	for i, tr := range execution.Transfers {
		if tr.Status != domain.TransferPending {
			t.Errorf("transfer %d: expected pending status, got %s", i, tr.Status)
		}
		if tr.SettlementRef == "" {
			t.Errorf("transfer %d: expected settlement reference", i)
		}
	}

	total := execution.PlatformFee
	for _, tr := range execution.Transfers {
		total += tr.Amount
	}
	if total != execution.ProfitAmount {
		t.Fatalf("fee + transfers = %d, want %d", total, execution.ProfitAmount)
	}

	if repo.scheduledNext == nil {
		t.Fatal("expected schedule to advance")
	}
	if len(publisher.routingKeys) != 1 || publisher.routingKeys[0] != RoutingKeyExecutionCompleted {
		t.Fatalf("expected completed event, got %v", publisher.routingKeys)
	}
}

func TestExecuteRule_FanOutFailureRecordsFailedExecution(t *testing.T) {
	rule := testRule(domain.TriggerWeekly, storedDist("", 10000))
	repo := &engineRepoStub{rule: rule}
	publisher := &publisherStub{}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, publisher)

	execution, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if err != nil {
		t.Fatalf("expected failed execution to be returned without error, got %v", err)
	}
	if execution.Status != domain.ExecutionFailed {
		t.Fatalf("expected failed status, got %s", execution.Status)
	}
	if execution.ErrorMessage == nil || *execution.ErrorMessage == "" {
		t.Fatal("expected error message on failed execution")
	}
	if len(execution.Transfers) != 0 {
		t.Fatalf("expected no transfers on failed execution, got %d", len(execution.Transfers))
	}
	if len(repo.executions) != 1 {
		t.Fatalf("expected failed execution to be persisted, got %d records", len(repo.executions))
	}
	if repo.scheduledNext == nil {
		t.Fatal("expected schedule to advance even after failure")
	}
	if len(publisher.routingKeys) != 1 || publisher.routingKeys[0] != RoutingKeyExecutionFailed {
		t.Fatalf("expected failed event, got %v", publisher.routingKeys)
	}
}

func TestExecuteRule_PersistFailureReturnsError(t *testing.T) {
	rule := testRule(domain.TriggerWeekly, storedDist("0xabc", 10000))
	repo := &engineRepoStub{rule: rule, createErr: errors.New("db down")}
	svc := newTestService(repo, &profitSourceStub{profit: 100000}, &publisherStub{})

	_, err := svc.ExecuteRule(context.Background(), rule.ID, rule.UserID)
	if err == nil {
		t.Fatal("expected error when the execution record cannot be persisted")
	}
}

func TestBuildTransfers_AdversarialThreeWaySplit(t *testing.T) {
	// 33.33 / 33.33 / 33.34 of 100.00 with a 0.5% fee. The last entry absorbs
	// the rounding remainder.
	distributions := []domain.Distribution{
		storedDist("0xaaa", 3333),
		storedDist("0xbbb", 3333),
		storedDist("0xccc", 3334),
	}
	fee, transfers, err := buildTransfers(10000, distributions, 50)
	if err != nil {
		t.Fatalf("expected fan-out to succeed, got %v", err)
	}
	if fee != 50 {
		t.Fatalf("expected fee 50, got %d", fee)
	}

	total := fee
	for i, tr := range transfers {
		if tr.Amount < 0 {
			t.Fatalf("transfer %d went negative: %d", i, tr.Amount)
		}
		total += tr.Amount
	}
	if total != 10000 {
		t.Fatalf("fee + transfers = %d, want 10000", total)
	}
}

func TestBuildTransfers_InvalidStoredSetRejected(t *testing.T) {
	distributions := []domain.Distribution{
		storedDist("0xaaa", 5000),
		storedDist("0xbbb", 4999),
	}
	if _, _, err := buildTransfers(10000, distributions, 50); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatalf("expected ErrInvalidDistribution for drifted stored set, got %v", err)
	}
}

func TestBuildTransfers_ZeroProfitDistributesZero(t *testing.T) {
	distributions := []domain.Distribution{
		storedDist("0xaaa", 7000),
		storedDist("0xbbb", 3000),
	}
	fee, transfers, err := buildTransfers(0, distributions, 50)
	if err != nil {
		t.Fatalf("expected zero-profit fan-out to succeed, got %v", err)
	}
	if fee != 0 {
		t.Fatalf("expected zero fee, got %d", fee)
	}
	for i, tr := range transfers {
		if tr.Amount != 0 {
			t.Fatalf("transfer %d: expected zero amount, got %d", i, tr.Amount)
		}
	}
}

func TestBuildTransfers_ReconciliationFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		profit := 1000 + rng.Int63n(10_000_000)
		parts := 2 + rng.Intn(5)

		// Random weights of at least 100 bps each, summing to exactly 10000.
		remaining := int32(10000)
		distributions := make([]domain.Distribution, parts)
		for j := 0; j < parts; j++ {
			left := parts - j - 1
			min := int32(100)
			max := remaining - int32(left)*100
			weight := max
			if j < parts-1 {
				weight = min + rng.Int31n(max-min+1)
			}
			distributions[j] = storedDist(uuid.NewString(), weight)
			remaining -= weight
		}

		fee, transfers, err := buildTransfers(profit, distributions, 50)
		if err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}

		total := fee
		for j, tr := range transfers {
			if tr.Amount < 0 {
				t.Fatalf("case %d: transfer %d went negative: %d", i, j, tr.Amount)
			}
			total += tr.Amount
		}
		if total != profit {
			t.Fatalf("case %d: fee %d + transfers sum to %d, want %d", i, fee, total, profit)
		}
	}
}
