/**
 * @description
 * Scheduled job implementations for the automation-service. The due-rule job
 * polls the ledger for rules whose next execution time has passed and runs
 * each one through the execution engine.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yieldhive/automation-service/internal/config"
	"github.com/yieldhive/automation-service/internal/domain"
)

// DueRuleSource defines the database operations needed by the jobs.
type DueRuleSource interface {
	FindDueRules(ctx context.Context, now time.Time, limit int) ([]domain.Rule, error)
}

// RuleExecutor runs a single rule execution attempt.
type RuleExecutor interface {
	ExecuteRule(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID) (*domain.Execution, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	rules    DueRuleSource
	executor RuleExecutor
	logger   *slog.Logger
	config   config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(rules DueRuleSource, executor RuleExecutor, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		rules:    rules,
		executor: executor,
		logger:   logger,
		config:   cfg,
	}
}

// ProcessDueRules is the job that executes every rule whose next execution
// time has passed.
func (j *Jobs) ProcessDueRules() {
	j.logger.Info("starting due rule execution job")
	ctx := context.Background()

	rules, err := j.rules.FindDueRules(ctx, time.Now().UTC(), j.config.DueRuleBatchSize)
	if err != nil {
		j.logger.Error("failed to get due rules", "error", err)
		return
	}

	if len(rules) == 0 {
		j.logger.Info("no due rules to process")
		return
	}

	j.logger.Info("found due rules to process", "count", len(rules))

	for _, rule := range rules {
		j.logger.Info("executing due rule", "rule_id", rule.ID, "user_id", rule.UserID, "trigger", rule.Trigger)

		execution, err := j.executor.ExecuteRule(ctx, rule.ID, rule.UserID)
		if err != nil {
			switch {
			case errors.Is(err, ErrInsufficientProfit):
				// Threshold rules are polled daily; not crossing the
				// threshold is the normal case.
				j.logger.Info("rule below profit threshold, skipping", "rule_id", rule.ID)
			case errors.Is(err, ErrExecutionInProgress):
				j.logger.Info("rule execution already in progress, skipping", "rule_id", rule.ID)
			case errors.Is(err, ErrRuleInactive):
				j.logger.Info("rule deactivated since polling, skipping", "rule_id", rule.ID)
			default:
				j.logger.Error("failed to execute due rule", "rule_id", rule.ID, "error", err)
			}
			continue
		}

		if execution.Status == domain.ExecutionFailed {
			j.logger.Error("due rule execution recorded as failed", "rule_id", rule.ID, "execution_id", execution.ID)
		} else {
			j.logger.Info("successfully executed due rule", "rule_id", rule.ID, "execution_id", execution.ID,
				"profit", execution.ProfitAmount, "fee", execution.PlatformFee, "transfers", len(execution.Transfers))
		}
	}

	j.logger.Info("due rule execution job finished")
}
