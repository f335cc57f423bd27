/**
 * @description
 * This file contains the core business logic for the automation-service. The
 * `Service` struct owns the rule aggregate: creation, partial update, toggle,
 * cascade delete, and the read paths (listing with filters, execution
 * history). Execution itself lives in engine.go.
 *
 * Key features:
 * - Enforces the rule invariants on every mutation: distribution weights sum
 *   to exactly 100%, and a profit threshold is present iff the trigger is
 *   profit_threshold.
 * - Computes next activation times through the schedule calculator.
 * - Treats the repository as the ledger of record; no rule state is cached
 *   in-process.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yieldhive/automation-service/internal/domain"
	"github.com/yieldhive/automation-service/internal/store"
)

var (
	// ErrRuleInactive means the rule exists but is switched off.
	ErrRuleInactive = errors.New("rule is not active")

	// ErrInsufficientProfit means a threshold rule's accrued profit has not
	// crossed its configured threshold yet.
	ErrInsufficientProfit = errors.New("accrued profit is below the rule threshold")

	// ErrExecutionInProgress means another caller holds the rule's execution
	// lease right now.
	ErrExecutionInProgress = errors.New("an execution is already in progress for this rule")
)

// ProfitSource supplies the current accrued profit for a rule's vault
// position, in cents. Implemented by pkg/yieldclient in production and by
// deterministic stubs in tests; the engine never generates profit itself.
type ProfitSource interface {
	CurrentAccruedProfit(ctx context.Context, vaultID uuid.UUID, ruleID uuid.UUID) (int64, error)
}

// EventPublisher is the slice of the message producer the service needs.
type EventPublisher interface {
	PublishExecutionEvent(ctx context.Context, routingKey string, event interface{}) error
}

// Service provides the core business logic for automation rules.
type Service struct {
	repo         store.Repository
	profitSource ProfitSource
	producer     EventPublisher
	feeRateBps   int64
	leaseTTL     time.Duration
}

// NewService creates a new automation service instance.
func NewService(repo store.Repository, profitSource ProfitSource, producer EventPublisher, feeRateBps int64, leaseTTL time.Duration) *Service {
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	return &Service{
		repo:         repo,
		profitSource: profitSource,
		producer:     producer,
		feeRateBps:   feeRateBps,
		leaseTTL:     leaseTTL,
	}
}

// ResolveUser converts an authenticated wallet address into the internal user
// record, creating it on first contact. Wallets are the identity the auth
// layer hands us; repositories operate on UUIDs.
func (s *Service) ResolveUser(ctx context.Context, walletAddress string) (*domain.User, error) {
	walletAddress = strings.TrimSpace(walletAddress)
	if walletAddress == "" {
		return nil, store.ErrUserNotFound
	}
	return s.repo.FindOrCreateUserByWalletAddress(ctx, walletAddress)
}

// ListVaults returns the vault catalog.
func (s *Service) ListVaults(ctx context.Context) ([]domain.Vault, error) {
	return s.repo.ListVaults(ctx)
}

// GetVault returns one vault catalog entry.
func (s *Service) GetVault(ctx context.Context, vaultID uuid.UUID) (*domain.Vault, error) {
	return s.repo.FindVaultByID(ctx, vaultID)
}

// CreateRule validates and persists a new automation rule. The rule starts
// active with its next execution computed from the trigger.
func (s *Service) CreateRule(ctx context.Context, userID uuid.UUID, payload domain.CreateRulePayload) (*domain.Rule, error) {
	if strings.TrimSpace(payload.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !payload.Trigger.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger %q", ErrInvalidRule, payload.Trigger)
	}
	if err := validateThreshold(payload.Trigger, payload.ProfitThreshold); err != nil {
		return nil, err
	}
	if err := ValidateDistributionInputs(payload.Distributions); err != nil {
		return nil, err
	}
	distributions, err := normalizeDistributions(payload.Distributions)
	if err != nil {
		return nil, err
	}

	// Vault must exist before anything is persisted.
	vault, err := s.repo.FindVaultByID(ctx, payload.VaultID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule := &domain.Rule{
		ID:              uuid.New(),
		UserID:          userID,
		VaultID:         vault.ID,
		Name:            strings.TrimSpace(payload.Name),
		Description:     payload.Description,
		Trigger:         payload.Trigger,
		ProfitThreshold: payload.ProfitThreshold,
		Active:          true,
		NextExecution:   NextActivation(payload.Trigger, now),
		Distributions:   distributions,
	}

	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	rule.Vault = vault

	log.Printf("level=info component=service op=create_rule rule_id=%s user_id=%s trigger=%s distributions=%d",
		rule.ID, userID, rule.Trigger, len(rule.Distributions))
	return rule, nil
}

// GetRule retrieves a rule scoped to its owner.
func (s *Service) GetRule(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID) (*domain.Rule, error) {
	return s.repo.FindRuleByID(ctx, ruleID, userID)
}

// ListRules returns a user's rules plus active/inactive counts.
func (s *Service) ListRules(ctx context.Context, userID uuid.UUID, opts domain.RuleListOptions) (*domain.RuleList, error) {
	rules, err := s.repo.ListRules(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	list := &domain.RuleList{Rules: rules, Total: len(rules)}
	for _, rule := range rules {
		if rule.Active {
			list.ActiveCount++
		}
	}
	list.InactiveCount = list.Total - list.ActiveCount
	if list.Rules == nil {
		list.Rules = []domain.Rule{}
	}
	return list, nil
}

// UpdateRule applies a partial update to a rule. A provided distribution set
// replaces the existing one wholesale; a provided trigger recomputes the next
// execution from now. The trigger/threshold invariant is re-checked against
// the post-patch state.
func (s *Service) UpdateRule(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID, payload domain.UpdateRulePayload) (*domain.Rule, error) {
	rule, err := s.repo.FindRuleByID(ctx, ruleID, userID)
	if err != nil {
		return nil, err
	}

	if payload.Name != nil {
		if strings.TrimSpace(*payload.Name) == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidRule)
		}
		rule.Name = strings.TrimSpace(*payload.Name)
	}
	if payload.Description != nil {
		rule.Description = payload.Description
	}
	if payload.Trigger != nil {
		if !payload.Trigger.Valid() {
			return nil, fmt.Errorf("%w: unknown trigger %q", ErrInvalidRule, *payload.Trigger)
		}
		rule.Trigger = *payload.Trigger
		rule.NextExecution = NextActivation(rule.Trigger, time.Now().UTC())
		// Moving off the profit_threshold trigger retires the stored
		// threshold; otherwise the stale value would fail the invariant
		// check below and strand the rule on its old trigger.
		if rule.Trigger != domain.TriggerProfitThreshold && payload.ProfitThreshold == nil {
			rule.ProfitThreshold = nil
		}
	}
	if payload.ProfitThreshold != nil {
		rule.ProfitThreshold = payload.ProfitThreshold
	}
	if payload.Active != nil {
		rule.Active = *payload.Active
	}
	if err := validateThreshold(rule.Trigger, rule.ProfitThreshold); err != nil {
		return nil, err
	}

	replaceDistributions := payload.Distributions != nil
	if replaceDistributions {
		if err := ValidateDistributionInputs(payload.Distributions); err != nil {
			return nil, err
		}
		rule.Distributions, err = normalizeDistributions(payload.Distributions)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateRule(ctx, rule, replaceDistributions); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	return s.repo.FindRuleByID(ctx, ruleID, userID)
}

// ToggleRule flips a rule's active flag without touching its schedule.
func (s *Service) ToggleRule(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID) (*domain.Rule, error) {
	rule, err := s.repo.FindRuleByID(ctx, ruleID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateRuleActive(ctx, ruleID, !rule.Active); err != nil {
		return nil, fmt.Errorf("failed to toggle rule: %w", err)
	}
	rule.Active = !rule.Active
	return rule, nil
}

// DeleteRule removes a rule and cascades its distributions and execution
// history in one ledger transaction.
func (s *Service) DeleteRule(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID) error {
	// Ownership check first; the cascade itself is keyed by rule id only.
	if _, err := s.repo.FindRuleByID(ctx, ruleID, userID); err != nil {
		return err
	}
	if err := s.repo.DeleteRuleCascade(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	log.Printf("level=info component=service op=delete_rule rule_id=%s user_id=%s", ruleID, userID)
	return nil
}

// ListExecutions returns a rule's execution history, newest first, after
// verifying ownership.
func (s *Service) ListExecutions(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID, opts domain.ExecutionListOptions) ([]domain.Execution, error) {
	if _, err := s.repo.FindRuleByID(ctx, ruleID, userID); err != nil {
		return nil, err
	}
	executions, err := s.repo.ListExecutions(ctx, ruleID, opts)
	if err != nil {
		return nil, err
	}
	if executions == nil {
		executions = []domain.Execution{}
	}
	return executions, nil
}

// validateThreshold enforces the trigger/threshold invariant: a profit
// threshold is present, and positive, iff the trigger is profit_threshold.
func validateThreshold(trigger domain.TriggerKind, threshold *int64) error {
	if trigger == domain.TriggerProfitThreshold {
		if threshold == nil {
			return fmt.Errorf("%w: profit_threshold trigger requires a profit threshold", ErrInvalidRule)
		}
		if *threshold <= 0 {
			return fmt.Errorf("%w: profit threshold must be positive", ErrInvalidRule)
		}
		return nil
	}
	if threshold != nil {
		return fmt.Errorf("%w: profit threshold is only valid with the profit_threshold trigger", ErrInvalidRule)
	}
	return nil
}

// normalizeDistributions converts API payload entries into domain
// distributions, defaulting and cross-checking the kind against the reinvest
// sentinel recipient.
func normalizeDistributions(inputs []domain.DistributionInput) ([]domain.Distribution, error) {
	distributions := make([]domain.Distribution, len(inputs))
	for i, in := range inputs {
		recipient := strings.TrimSpace(in.Recipient)
		kind := in.Kind
		if kind == "" {
			if recipient == domain.ReinvestRecipient {
				kind = domain.DistributionReinvest
			} else {
				kind = domain.DistributionWallet
			}
		}
		switch kind {
		case domain.DistributionWallet, domain.DistributionReinvest:
		default:
			return nil, fmt.Errorf("%w: unknown distribution kind %q", ErrInvalidDistribution, in.Kind)
		}
		if kind == domain.DistributionReinvest && recipient == "" {
			recipient = domain.ReinvestRecipient
		}

		distributions[i] = domain.Distribution{
			ID:            uuid.New(),
			Recipient:     recipient,
			PercentageBps: in.PercentageBps,
			Label:         in.Label,
			Kind:          kind,
		}
	}
	return distributions, nil
}
