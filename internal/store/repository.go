/**
 * @description
 * This file defines the `Repository` interface, the contract for all ledger
 * access the automation-service needs: rules with their distributions,
 * append-only execution records, the vault catalog, and user resolution.
 * Defining an interface decouples the business logic from PostgreSQL and lets
 * engine tests run against in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/yieldhive/automation-service/internal/domain"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrVaultNotFound     = errors.New("vault not found")
	ErrRuleNotFound      = errors.New("rule not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrTransferNotFound  = errors.New("transfer not found")
)

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	// User methods
	FindOrCreateUserByWalletAddress(ctx context.Context, walletAddress string) (*domain.User, error)

	// Vault catalog methods
	FindVaultByID(ctx context.Context, vaultID uuid.UUID) (*domain.Vault, error)
	ListVaults(ctx context.Context) ([]domain.Vault, error)

	// Rule methods
	CreateRule(ctx context.Context, rule *domain.Rule) error
	FindRuleByID(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID) (*domain.Rule, error)
	ListRules(ctx context.Context, userID uuid.UUID, opts domain.RuleListOptions) ([]domain.Rule, error)
	UpdateRule(ctx context.Context, rule *domain.Rule, replaceDistributions bool) error
	UpdateRuleActive(ctx context.Context, ruleID uuid.UUID, active bool) error
	UpdateRuleSchedule(ctx context.Context, ruleID uuid.UUID, lastExecuted time.Time, nextExecution time.Time) error
	DeleteRuleCascade(ctx context.Context, ruleID uuid.UUID) error
	FindDueRules(ctx context.Context, now time.Time, limit int) ([]domain.Rule, error)

	// Execution lease methods. The lease lives in the rules table so the
	// serialization guarantee spans every worker sharing the database.
	AcquireRuleExecutionLease(ctx context.Context, ruleID uuid.UUID, ttl time.Duration) (bool, error)
	ReleaseRuleExecutionLease(ctx context.Context, ruleID uuid.UUID) error

	// Execution history methods
	CreateExecution(ctx context.Context, execution *domain.Execution) error
	ListExecutions(ctx context.Context, ruleID uuid.UUID, opts domain.ExecutionListOptions) ([]domain.Execution, error)
	UpdateTransferStatus(ctx context.Context, executionID uuid.UUID, settlementRef string, status domain.TransferStatus) error
}
