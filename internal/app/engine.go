/**
 * @description
 * This file contains the execution engine for automation rules. ExecuteRule
 * runs a single rule end to end: precondition gates, profit snapshot, fee
 * deduction, distribution fan-out, record persistence, schedule advance, and
 * event publishing.
 *
 * Key features:
 * - Preconditions short-circuit in a fixed order (missing rule, inactive
 *   rule, insufficient profit) before any record is created.
 * - A ledger-held lease guarantees at most one execution per rule at a time;
 *   a concurrent caller gets ErrExecutionInProgress immediately rather than
 *   blocking.
 * - Arithmetic is integer cents throughout. The platform fee and each
 *   distribution are rounded half-up; the final distribution absorbs the
 *   rounding remainder so fee + transfers always reconciles to the profit
 *   snapshot exactly.
 * - Once the fan-out begins, failures produce a persisted failed execution
 *   record instead of a bare error, so the history reflects every attempt.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - github.com/google/uuid: Settlement reference generation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/yieldhive/automation-service/internal/domain"
)

// Routing keys for execution lifecycle events.
const (
	RoutingKeyExecutionCompleted = "rule.execution.completed"
	RoutingKeyExecutionFailed    = "rule.execution.failed"
)

// ExecutionEvent is the message body published after every persisted
// execution attempt.
type ExecutionEvent struct {
	ExecutionID  string    `json:"execution_id"`
	RuleID       string    `json:"rule_id"`
	UserID       string    `json:"user_id"`
	VaultID      string    `json:"vault_id"`
	ProfitAmount int64     `json:"profit_amount"`
	PlatformFee  int64     `json:"platform_fee"`
	Status       string    `json:"status"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// ExecuteRule runs one execution attempt for a rule owned by userID.
//
// Precondition failures (rule missing, rule inactive, profit below threshold,
// execution already in progress, profit source unavailable) return an error
// and leave no trace in the execution history. Once the fan-out is computed
// the attempt is committed: a completed or failed execution record is
// persisted, the schedule is advanced, and an event is published. The
// returned execution may carry StatusFailed; callers decide how to surface
// that.
func (s *Service) ExecuteRule(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID) (*domain.Execution, error) {
	rule, err := s.repo.FindRuleByID(ctx, ruleID, userID)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		return nil, ErrRuleInactive
	}

	acquired, err := s.repo.AcquireRuleExecutionLease(ctx, rule.ID, s.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire execution lease for rule %s: %w", rule.ID, err)
	}
	if !acquired {
		return nil, ErrExecutionInProgress
	}
	defer func() {
		if releaseErr := s.repo.ReleaseRuleExecutionLease(context.WithoutCancel(ctx), rule.ID); releaseErr != nil {
			log.Printf("level=warn component=engine op=release_lease rule_id=%s error=%q", rule.ID, releaseErr)
		}
	}()

	profit, err := s.profitSource.CurrentAccruedProfit(ctx, rule.VaultID, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accrued profit for rule %s: %w", rule.ID, err)
	}
	if profit < 0 {
		return nil, fmt.Errorf("profit source returned negative profit %d for rule %s", profit, rule.ID)
	}
	if rule.Trigger == domain.TriggerProfitThreshold {
		// A threshold trigger with no stored threshold is corrupt state;
		// refusing beats distributing on an unbounded gate.
		if rule.ProfitThreshold == nil {
			return nil, fmt.Errorf("rule %s has a profit_threshold trigger but no stored threshold", rule.ID)
		}
		if profit < *rule.ProfitThreshold {
			return nil, ErrInsufficientProfit
		}
	}

	// Commitment point: from here every outcome is recorded.
	now := time.Now().UTC()
	execution := &domain.Execution{
		ID:           uuid.New(),
		RuleID:       rule.ID,
		ExecutedAt:   now,
		ProfitAmount: profit,
		Status:       domain.ExecutionCompleted,
	}

	fee, transfers, buildErr := buildTransfers(profit, rule.Distributions, s.feeRateBps)
	if buildErr != nil {
		msg := buildErr.Error()
		execution.Status = domain.ExecutionFailed
		execution.ErrorMessage = &msg
		execution.PlatformFee = 0
		execution.Transfers = []domain.Transfer{}
		log.Printf("level=error component=engine op=execute_rule rule_id=%s status=failed error=%q", rule.ID, msg)
	} else {
		execution.PlatformFee = fee
		execution.Transfers = transfers
	}

	if err := s.repo.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to record execution for rule %s: %w", rule.ID, err)
	}

	// The schedule advances regardless of outcome so a failing rule does not
	// spin on every poll. A stale next_execution means the poller will re-run
	// the rule against the same profit once the lease lapses, so the advance
	// is retried and a final failure is logged loudly.
	next := NextActivation(rule.Trigger, now)
	if err := s.advanceSchedule(context.WithoutCancel(ctx), rule.ID, now, next); err != nil {
		log.Printf("level=error component=engine op=advance_schedule rule_id=%s next=%s msg=\"schedule stale; rule may re-run\" error=%q",
			rule.ID, next.Format(time.RFC3339), err)
	}

	s.publishExecutionEvent(ctx, rule, execution)

	if execution.Status == domain.ExecutionCompleted {
		log.Printf("level=info component=engine op=execute_rule rule_id=%s execution_id=%s profit=%d fee=%d transfers=%d",
			rule.ID, execution.ID, profit, execution.PlatformFee, len(execution.Transfers))
	}
	return execution, nil
}

const scheduleAdvanceAttempts = 3

// advanceSchedule writes the new execution timestamps, retrying transient
// failures with a short backoff.
func (s *Service) advanceSchedule(ctx context.Context, ruleID uuid.UUID, executedAt, next time.Time) error {
	var err error
	for attempt := 1; attempt <= scheduleAdvanceAttempts; attempt++ {
		if err = s.repo.UpdateRuleSchedule(ctx, ruleID, executedAt, next); err == nil {
			return nil
		}
		if attempt < scheduleAdvanceAttempts {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	return err
}

// buildTransfers computes the platform fee and the per-distribution transfer
// set for a profit snapshot. Every transfer except the last is rounded
// half-up from the net amount; the last receives whatever remains, which
// keeps fee + sum(transfers) == profit exact.
func buildTransfers(profit int64, distributions []domain.Distribution, feeRateBps int64) (int64, []domain.Transfer, error) {
	if err := ValidateDistributions(distributions); err != nil {
		return 0, nil, err
	}

	fee := roundHalfUpBps(profit, feeRateBps)
	net := profit - fee
	if net < 0 {
		return 0, nil, fmt.Errorf("platform fee %d exceeds profit %d", fee, profit)
	}

	transfers := make([]domain.Transfer, len(distributions))
	var allocated int64
	for i, dist := range distributions {
		if dist.Recipient == "" {
			return 0, nil, errors.New("distribution has an empty recipient")
		}
		var amount int64
		if i == len(distributions)-1 {
			amount = net - allocated
		} else {
			amount = roundHalfUpBps(net, int64(dist.PercentageBps))
			allocated += amount
		}
		if amount < 0 {
			return 0, nil, fmt.Errorf("rounding produced a negative amount for recipient %s", dist.Recipient)
		}
		transfers[i] = domain.Transfer{
			Recipient:     dist.Recipient,
			Amount:        amount,
			Kind:          dist.Kind,
			SettlementRef: fmt.Sprintf("stl_%s", uuid.New()),
			Status:        domain.TransferPending,
		}
	}
	return fee, transfers, nil
}

// roundHalfUpBps applies a basis-point rate to an amount of cents, rounding
// half-up. 10000 bps is 100%.
func roundHalfUpBps(amount int64, bps int64) int64 {
	return (amount*bps + domain.TotalPercentageBps/2) / domain.TotalPercentageBps
}

func (s *Service) publishExecutionEvent(ctx context.Context, rule *domain.Rule, execution *domain.Execution) {
	if s.producer == nil {
		return
	}
	routingKey := RoutingKeyExecutionCompleted
	if execution.Status == domain.ExecutionFailed {
		routingKey = RoutingKeyExecutionFailed
	}
	event := ExecutionEvent{
		ExecutionID:  execution.ID.String(),
		RuleID:       rule.ID.String(),
		UserID:       rule.UserID.String(),
		VaultID:      rule.VaultID.String(),
		ProfitAmount: execution.ProfitAmount,
		PlatformFee:  execution.PlatformFee,
		Status:       string(execution.Status),
		ExecutedAt:   execution.ExecutedAt,
	}
	if err := s.producer.PublishExecutionEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=engine op=publish_event rule_id=%s routing_key=%s error=%q", rule.ID, routingKey, err)
	}
}
