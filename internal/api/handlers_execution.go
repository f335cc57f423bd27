/**
 * @description
 * HTTP handlers for rule execution: the manual execute endpoint and the
 * execution history listing. Manual execution is throttled per user via
 * Redis when a throttle is configured.
 */
package api

import (
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/yieldhive/automation-service/internal/domain"
)

// ExecuteRuleHandler triggers an immediate execution attempt for a rule. A
// failed execution is still a 200 response: the attempt happened and was
// recorded; "result" tells the client how it went.
func (h *AutomationHandlers) ExecuteRuleHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.parseRuleID(w, r)
	if !ok {
		return
	}

	if h.throttle != nil {
		allowed, retryAfter, limitErr := h.throttle.Allow(r.Context(), user.ID)
		if limitErr != nil {
			log.Printf("level=warn component=api endpoint=execute_rule msg=\"throttle unavailable; allowing request\" err=%v", limitErr)
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			h.writeError(w, http.StatusTooManyRequests, "Too many execution requests. Please wait and try again.")
			return
		}
	}

	execution, err := h.service.ExecuteRule(r.Context(), ruleID, user.ID)
	if err != nil {
		h.writeRuleError(w, "execute_rule", err)
		return
	}

	response := domain.ExecuteRuleResult{
		Result:    "success",
		Execution: execution,
		Timestamp: time.Now().UTC(),
	}
	if execution.Status == domain.ExecutionFailed {
		response.Result = "error"
	}
	h.writeJSON(w, http.StatusOK, response)
}

// ListExecutionsHandler returns a rule's execution history, newest first.
func (h *AutomationHandlers) ListExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.parseRuleID(w, r)
	if !ok {
		return
	}

	opts := domain.ExecutionListOptions{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = offset
	}

	executions, err := h.service.ListExecutions(r.Context(), ruleID, user.ID, opts)
	if err != nil {
		h.writeRuleError(w, "list_executions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"executions": executions})
}
