/**
 * @description
 * Distribution set validation for automation rules. The validator is a pure
 * function: it is run at rule creation, on every distribution replacement
 * during update, and defensively by the execution engine before fan-out.
 */

package app

import (
	"errors"
	"fmt"

	"github.com/yieldhive/automation-service/internal/domain"
)

var (
	// ErrInvalidDistribution marks a malformed distribution set. Always
	// client-caused and recoverable by resubmission.
	ErrInvalidDistribution = errors.New("invalid distribution set")

	// ErrInvalidRule marks a bad trigger/threshold combination.
	ErrInvalidRule = errors.New("invalid rule definition")
)

// ValidateDistributionInputs checks a replacement distribution set from an API
// payload. Weights must be individually in [0, 10000] basis points and sum to
// exactly 10000 — no tolerance. A 99.99% or 100.01% set is a hard validation
// failure, not a rounding curiosity.
func ValidateDistributionInputs(distributions []domain.DistributionInput) error {
	if len(distributions) == 0 {
		return fmt.Errorf("%w: at least one distribution is required", ErrInvalidDistribution)
	}

	var sum int64
	for i, d := range distributions {
		if d.PercentageBps < 0 || d.PercentageBps > domain.TotalPercentageBps {
			return fmt.Errorf("%w: distribution %d has percentage %d bps outside [0, %d]",
				ErrInvalidDistribution, i, d.PercentageBps, domain.TotalPercentageBps)
		}
		sum += int64(d.PercentageBps)
	}

	if sum != domain.TotalPercentageBps {
		return fmt.Errorf("%w: percentages must sum to exactly %d bps, got %d",
			ErrInvalidDistribution, domain.TotalPercentageBps, sum)
	}
	return nil
}

// ValidateDistributions applies the same checks to a rule's stored
// distribution set. The engine calls this before fan-out.
func ValidateDistributions(distributions []domain.Distribution) error {
	inputs := make([]domain.DistributionInput, len(distributions))
	for i, d := range distributions {
		inputs[i] = domain.DistributionInput{
			Recipient:     d.Recipient,
			PercentageBps: d.PercentageBps,
			Kind:          d.Kind,
		}
	}
	return ValidateDistributionInputs(inputs)
}
