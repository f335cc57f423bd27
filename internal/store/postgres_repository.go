/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for rules, distributions,
 * execution records, the vault catalog, and the per-rule execution lease.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, strings, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yieldhive/automation-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindOrCreateUserByWalletAddress returns the user for a wallet address,
// creating the row on first contact (auth-service issues tokens for any wallet
// that completes a signature challenge, so first-seen wallets are expected).
func (r *PostgresRepository) FindOrCreateUserByWalletAddress(ctx context.Context, walletAddress string) (*domain.User, error) {
	var user domain.User
	query := `
		INSERT INTO users (id, wallet_address, created_at)
		VALUES ($1, lower(btrim($2)), NOW())
		ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = users.wallet_address
		RETURNING id, wallet_address, created_at
	`
	err := r.db.QueryRow(ctx, query, uuid.New(), walletAddress).Scan(&user.ID, &user.WalletAddress, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindVaultByID retrieves a vault catalog entry.
func (r *PostgresRepository) FindVaultByID(ctx context.Context, vaultID uuid.UUID) (*domain.Vault, error) {
	var vault domain.Vault
	query := `SELECT id, name, protocol, token_symbol, apy_bps, active, created_at FROM vaults WHERE id = $1`
	err := r.db.QueryRow(ctx, query, vaultID).Scan(
		&vault.ID, &vault.Name, &vault.Protocol, &vault.TokenSymbol, &vault.APYBps, &vault.Active, &vault.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrVaultNotFound
		}
		return nil, err
	}
	return &vault, nil
}

// ListVaults returns the vault catalog, active entries first.
func (r *PostgresRepository) ListVaults(ctx context.Context) ([]domain.Vault, error) {
	query := `
		SELECT id, name, protocol, token_symbol, apy_bps, active, created_at
		FROM vaults
		ORDER BY active DESC, name ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vaults []domain.Vault
	for rows.Next() {
		var vault domain.Vault
		if err := rows.Scan(&vault.ID, &vault.Name, &vault.Protocol, &vault.TokenSymbol, &vault.APYBps, &vault.Active, &vault.CreatedAt); err != nil {
			return nil, err
		}
		vaults = append(vaults, vault)
	}
	return vaults, rows.Err()
}

// CreateRule inserts a rule together with its distributions in one transaction.
func (r *PostgresRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO rules (id, user_id, vault_id, name, description, trigger, profit_threshold, active, next_execution, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		rule.ID, rule.UserID, rule.VaultID, rule.Name, rule.Description,
		rule.Trigger, rule.ProfitThreshold, rule.Active, rule.NextExecution,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	if err := insertDistributions(ctx, tx, rule.ID, rule.Distributions); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// insertDistributions writes a rule's distribution set, preserving order via an
// explicit position column.
func insertDistributions(ctx context.Context, tx pgx.Tx, ruleID uuid.UUID, distributions []domain.Distribution) error {
	query := `
		INSERT INTO distributions (id, rule_id, recipient, percentage_bps, label, kind, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i := range distributions {
		d := &distributions[i]
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		d.RuleID = ruleID
		if _, err := tx.Exec(ctx, query, d.ID, d.RuleID, d.Recipient, d.PercentageBps, d.Label, d.Kind, i); err != nil {
			return fmt.Errorf("failed to insert distribution: %w", err)
		}
	}
	return nil
}

// FindRuleByID retrieves a rule scoped to its owner, including its ordered
// distributions, a vault summary, and execution aggregates.
func (r *PostgresRepository) FindRuleByID(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID) (*domain.Rule, error) {
	var rule domain.Rule
	var vault domain.Vault
	query := `
		SELECT r.id, r.user_id, r.vault_id, r.name, r.description, r.trigger, r.profit_threshold,
		       r.active, r.last_executed, r.next_execution, r.created_at, r.updated_at,
		       v.id, v.name, v.protocol, v.token_symbol, v.apy_bps, v.active, v.created_at,
		       (SELECT COUNT(*) FROM rule_executions e WHERE e.rule_id = r.id),
		       COALESCE((SELECT SUM(e.profit_amount) FROM rule_executions e WHERE e.rule_id = r.id AND e.status = 'completed'), 0)
		FROM rules r
		JOIN vaults v ON v.id = r.vault_id
		WHERE r.id = $1 AND r.user_id = $2
	`
	err := r.db.QueryRow(ctx, query, ruleID, userID).Scan(
		&rule.ID, &rule.UserID, &rule.VaultID, &rule.Name, &rule.Description, &rule.Trigger, &rule.ProfitThreshold,
		&rule.Active, &rule.LastExecuted, &rule.NextExecution, &rule.CreatedAt, &rule.UpdatedAt,
		&vault.ID, &vault.Name, &vault.Protocol, &vault.TokenSymbol, &vault.APYBps, &vault.Active, &vault.CreatedAt,
		&rule.ExecutionsCount, &rule.TotalDistributed,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	rule.Vault = &vault

	rule.Distributions, err = r.loadDistributions(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *PostgresRepository) loadDistributions(ctx context.Context, ruleID uuid.UUID) ([]domain.Distribution, error) {
	query := `
		SELECT id, rule_id, recipient, percentage_bps, label, kind
		FROM distributions
		WHERE rule_id = $1
		ORDER BY position ASC
	`
	rows, err := r.db.Query(ctx, query, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var distributions []domain.Distribution
	for rows.Next() {
		var d domain.Distribution
		if err := rows.Scan(&d.ID, &d.RuleID, &d.Recipient, &d.PercentageBps, &d.Label, &d.Kind); err != nil {
			return nil, err
		}
		distributions = append(distributions, d)
	}
	return distributions, rows.Err()
}

// ListRules returns all rules owned by a user, newest first, applying the
// optional vault/trigger/active/search filters.
func (r *PostgresRepository) ListRules(ctx context.Context, userID uuid.UUID, opts domain.RuleListOptions) ([]domain.Rule, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT r.id, r.user_id, r.vault_id, r.name, r.description, r.trigger, r.profit_threshold,
		       r.active, r.last_executed, r.next_execution, r.created_at, r.updated_at,
		       v.id, v.name, v.protocol, v.token_symbol, v.apy_bps, v.active, v.created_at,
		       (SELECT COUNT(*) FROM rule_executions e WHERE e.rule_id = r.id),
		       COALESCE((SELECT SUM(e.profit_amount) FROM rule_executions e WHERE e.rule_id = r.id AND e.status = 'completed'), 0)
		FROM rules r
		JOIN vaults v ON v.id = r.vault_id
		WHERE r.user_id = $1
	`)
	args := []interface{}{userID}

	if opts.VaultID != nil {
		args = append(args, *opts.VaultID)
		fmt.Fprintf(&sb, " AND r.vault_id = $%d", len(args))
	}
	if opts.Trigger != nil {
		args = append(args, string(*opts.Trigger))
		fmt.Fprintf(&sb, " AND r.trigger = $%d", len(args))
	}
	if opts.Active != nil {
		args = append(args, *opts.Active)
		fmt.Fprintf(&sb, " AND r.active = $%d", len(args))
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		args = append(args, "%"+search+"%")
		fmt.Fprintf(&sb, " AND (r.name ILIKE $%d OR r.description ILIKE $%d)", len(args), len(args))
	}
	sb.WriteString(" ORDER BY r.created_at DESC")

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var vault domain.Vault
		if err := rows.Scan(
			&rule.ID, &rule.UserID, &rule.VaultID, &rule.Name, &rule.Description, &rule.Trigger, &rule.ProfitThreshold,
			&rule.Active, &rule.LastExecuted, &rule.NextExecution, &rule.CreatedAt, &rule.UpdatedAt,
			&vault.ID, &vault.Name, &vault.Protocol, &vault.TokenSymbol, &vault.APYBps, &vault.Active, &vault.CreatedAt,
			&rule.ExecutionsCount, &rule.TotalDistributed,
		); err != nil {
			return nil, err
		}
		rule.Vault = &vault
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rules {
		rules[i].Distributions, err = r.loadDistributions(ctx, rules[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// UpdateRule persists changed rule fields. When replaceDistributions is true
// the existing distribution set is deleted and rewritten in full inside the
// same transaction (distributions are replaced, never merged).
func (r *PostgresRepository) UpdateRule(ctx context.Context, rule *domain.Rule, replaceDistributions bool) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE rules
		SET name = $1, description = $2, trigger = $3, profit_threshold = $4,
		    active = $5, next_execution = $6, updated_at = NOW()
		WHERE id = $7
	`
	tag, err := tx.Exec(ctx, query,
		rule.Name, rule.Description, rule.Trigger, rule.ProfitThreshold,
		rule.Active, rule.NextExecution, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}

	if replaceDistributions {
		if _, err := tx.Exec(ctx, "DELETE FROM distributions WHERE rule_id = $1", rule.ID); err != nil {
			return fmt.Errorf("failed to clear distributions: %w", err)
		}
		if err := insertDistributions(ctx, tx, rule.ID, rule.Distributions); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// UpdateRuleActive flips only the active flag, leaving the schedule untouched.
func (r *PostgresRepository) UpdateRuleActive(ctx context.Context, ruleID uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE rules SET active = $1, updated_at = NOW() WHERE id = $2",
		active, ruleID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// UpdateRuleSchedule stamps last_executed and advances next_execution after a run.
func (r *PostgresRepository) UpdateRuleSchedule(ctx context.Context, ruleID uuid.UUID, lastExecuted time.Time, nextExecution time.Time) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE rules SET last_executed = $1, next_execution = $2, updated_at = NOW() WHERE id = $3",
		lastExecuted, nextExecution, ruleID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRuleCascade removes a rule together with its distributions and
// execution history as one explicit transaction, so a partial delete can
// never leave orphaned child records.
func (r *PostgresRepository) DeleteRuleCascade(ctx context.Context, ruleID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM rule_executions WHERE rule_id = $1", ruleID); err != nil {
		return fmt.Errorf("failed to delete rule executions: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM distributions WHERE rule_id = $1", ruleID); err != nil {
		return fmt.Errorf("failed to delete distributions: %w", err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM rules WHERE id = $1", ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}

	return tx.Commit(ctx)
}

// FindDueRules returns active rules whose next_execution has passed and whose
// execution lease is free. Used by the scheduler's polling job.
func (r *PostgresRepository) FindDueRules(ctx context.Context, now time.Time, limit int) ([]domain.Rule, error) {
	query := `
		SELECT id, user_id, vault_id, name, trigger, active, next_execution
		FROM rules
		WHERE active = TRUE
		  AND next_execution <= $1
		  AND (execution_lease_until IS NULL OR execution_lease_until < NOW())
		ORDER BY next_execution ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		if err := rows.Scan(&rule.ID, &rule.UserID, &rule.VaultID, &rule.Name, &rule.Trigger, &rule.Active, &rule.NextExecution); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// AcquireRuleExecutionLease claims the exclusive per-rule execution lease. The
// claim is a single conditional UPDATE, so exactly one of any number of
// concurrent callers observes rows-affected == 1. The TTL bounds how long a
// crashed worker can hold the lease.
func (r *PostgresRepository) AcquireRuleExecutionLease(ctx context.Context, ruleID uuid.UUID, ttl time.Duration) (bool, error) {
	leaseUntil := time.Now().UTC().Add(ttl)
	tag, err := r.db.Exec(ctx, `
		UPDATE rules
		SET execution_lease_until = $1
		WHERE id = $2
		  AND (execution_lease_until IS NULL OR execution_lease_until < NOW())
	`, leaseUntil, ruleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseRuleExecutionLease frees the per-rule execution lease.
func (r *PostgresRepository) ReleaseRuleExecutionLease(ctx context.Context, ruleID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		"UPDATE rules SET execution_lease_until = NULL WHERE id = $1",
		ruleID,
	)
	return err
}

// CreateExecution appends one execution record. Transfers are stored as a JSONB
// document; the record is never updated afterwards except for per-transfer
// settlement status transitions.
func (r *PostgresRepository) CreateExecution(ctx context.Context, execution *domain.Execution) error {
	transfersJSON, err := json.Marshal(execution.Transfers)
	if err != nil {
		return fmt.Errorf("failed to marshal transfers: %w", err)
	}

	query := `
		INSERT INTO rule_executions (id, rule_id, executed_at, profit_amount, platform_fee, transfers, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Exec(ctx, query,
		execution.ID, execution.RuleID, execution.ExecutedAt,
		execution.ProfitAmount, execution.PlatformFee, transfersJSON,
		execution.Status, execution.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// ListExecutions returns a rule's execution history, newest first.
func (r *PostgresRepository) ListExecutions(ctx context.Context, ruleID uuid.UUID, opts domain.ExecutionListOptions) ([]domain.Execution, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, rule_id, executed_at, profit_amount, platform_fee, transfers, status, error_message
		FROM rule_executions
		WHERE rule_id = $1
		ORDER BY executed_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, ruleID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		var execution domain.Execution
		var transfersJSON []byte
		if err := rows.Scan(
			&execution.ID, &execution.RuleID, &execution.ExecutedAt,
			&execution.ProfitAmount, &execution.PlatformFee, &transfersJSON,
			&execution.Status, &execution.ErrorMessage,
		); err != nil {
			return nil, err
		}
		if len(transfersJSON) > 0 {
			if err := json.Unmarshal(transfersJSON, &execution.Transfers); err != nil {
				return nil, fmt.Errorf("failed to unmarshal transfers for execution %s: %w", execution.ID, err)
			}
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

// UpdateTransferStatus transitions the settlement status of a single transfer
// inside an execution record. The row is locked while the JSONB document is
// rewritten so concurrent settlement callbacks cannot clobber each other.
// Financial fields are never touched.
func (r *PostgresRepository) UpdateTransferStatus(ctx context.Context, executionID uuid.UUID, settlementRef string, status domain.TransferStatus) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var transfersJSON []byte
	err = tx.QueryRow(ctx,
		"SELECT transfers FROM rule_executions WHERE id = $1 FOR UPDATE",
		executionID,
	).Scan(&transfersJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrExecutionNotFound
		}
		return err
	}

	var transfers []domain.Transfer
	if err := json.Unmarshal(transfersJSON, &transfers); err != nil {
		return fmt.Errorf("failed to unmarshal transfers: %w", err)
	}

	found := false
	for i := range transfers {
		if transfers[i].SettlementRef == settlementRef {
			transfers[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return ErrTransferNotFound
	}

	updatedJSON, err := json.Marshal(transfers)
	if err != nil {
		return fmt.Errorf("failed to marshal transfers: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE rule_executions SET transfers = $1 WHERE id = $2",
		updatedJSON, executionID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

var _ Repository = (*PostgresRepository)(nil)
