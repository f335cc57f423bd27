/**
 * @description
 * This file contains the HTTP handlers for the automation-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/yieldhive/automation-service/internal/app"
	"github.com/yieldhive/automation-service/internal/domain"
	"github.com/yieldhive/automation-service/internal/store"
)

// AutomationHandlers holds the application service that handlers will use.
type AutomationHandlers struct {
	service  *app.Service
	throttle *app.ExecuteThrottle
}

// NewAutomationHandlers creates a new instance of AutomationHandlers. The
// throttle may be nil, in which case manual execution is unthrottled.
func NewAutomationHandlers(service *app.Service, throttle *app.ExecuteThrottle) *AutomationHandlers {
	return &AutomationHandlers{
		service:  service,
		throttle: throttle,
	}
}

// resolveUser turns the authenticated wallet address into the internal user
// record, writing the error response itself on failure.
func (h *AutomationHandlers) resolveUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	walletAddress, ok := WalletFromContext(r.Context())
	if !ok {
		http.Error(w, "Could not get wallet address from context", http.StatusInternalServerError)
		return nil, false
	}

	user, err := h.service.ResolveUser(r.Context(), walletAddress)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=user_resolution_failed wallet=%s err=%v", walletAddress, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve user")
		return nil, false
	}
	return user, true
}

// parseRuleID pulls and validates the {ruleID} URL parameter.
func (h *AutomationHandlers) parseRuleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid rule ID format")
		return uuid.Nil, false
	}
	return ruleID, true
}

// ListVaultsHandler returns the vault catalog.
func (h *AutomationHandlers) ListVaultsHandler(w http.ResponseWriter, r *http.Request) {
	vaults, err := h.service.ListVaults(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=list_vaults err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if vaults == nil {
		vaults = []domain.Vault{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"vaults": vaults})
}

// GetVaultHandler returns a single vault catalog entry.
func (h *AutomationHandlers) GetVaultHandler(w http.ResponseWriter, r *http.Request) {
	vaultID, err := uuid.Parse(chi.URLParam(r, "vaultID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid vault ID format")
		return
	}

	vault, err := h.service.GetVault(r.Context(), vaultID)
	if err != nil {
		if errors.Is(err, store.ErrVaultNotFound) {
			h.writeError(w, http.StatusNotFound, "Vault not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_vault vault_id=%s err=%v", vaultID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, vault)
}

// CreateRuleHandler handles requests to create a new automation rule.
func (h *AutomationHandlers) CreateRuleHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var payload domain.CreateRulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api endpoint=create_rule outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	rule, err := h.service.CreateRule(r.Context(), user.ID, payload)
	if err != nil {
		h.writeRuleError(w, "create_rule", err)
		return
	}

	log.Printf("level=info component=api endpoint=create_rule outcome=created rule_id=%s user_id=%s", rule.ID, user.ID)
	h.writeJSON(w, http.StatusCreated, rule)
}

// ListRulesHandler returns the caller's rules with optional filters.
func (h *AutomationHandlers) ListRulesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	opts := domain.RuleListOptions{Search: strings.TrimSpace(r.URL.Query().Get("search"))}
	if raw := r.URL.Query().Get("vault_id"); raw != "" {
		vaultID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid vault_id filter")
			return
		}
		opts.VaultID = &vaultID
	}
	if raw := r.URL.Query().Get("trigger"); raw != "" {
		trigger := domain.TriggerKind(raw)
		if !trigger.Valid() {
			h.writeError(w, http.StatusBadRequest, "Invalid trigger filter")
			return
		}
		opts.Trigger = &trigger
	}
	if raw := r.URL.Query().Get("active"); raw != "" {
		switch raw {
		case "true":
			active := true
			opts.Active = &active
		case "false":
			active := false
			opts.Active = &active
		default:
			h.writeError(w, http.StatusBadRequest, "Invalid active filter")
			return
		}
	}

	list, err := h.service.ListRules(r.Context(), user.ID, opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_rules user_id=%s err=%v", user.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

// GetRuleHandler returns one rule owned by the caller.
func (h *AutomationHandlers) GetRuleHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.parseRuleID(w, r)
	if !ok {
		return
	}

	rule, err := h.service.GetRule(r.Context(), ruleID, user.ID)
	if err != nil {
		h.writeRuleError(w, "get_rule", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// UpdateRuleHandler applies a partial update to a rule.
func (h *AutomationHandlers) UpdateRuleHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.parseRuleID(w, r)
	if !ok {
		return
	}

	var payload domain.UpdateRulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api endpoint=update_rule outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	rule, err := h.service.UpdateRule(r.Context(), ruleID, user.ID, payload)
	if err != nil {
		h.writeRuleError(w, "update_rule", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// ToggleRuleHandler flips a rule's active flag.
func (h *AutomationHandlers) ToggleRuleHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.parseRuleID(w, r)
	if !ok {
		return
	}

	rule, err := h.service.ToggleRule(r.Context(), ruleID, user.ID)
	if err != nil {
		h.writeRuleError(w, "toggle_rule", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// DeleteRuleHandler removes a rule and its history.
func (h *AutomationHandlers) DeleteRuleHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := h.parseRuleID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteRule(r.Context(), ruleID, user.ID); err != nil {
		h.writeRuleError(w, "delete_rule", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeRuleError maps service errors from rule operations onto HTTP statuses.
func (h *AutomationHandlers) writeRuleError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrRuleNotFound):
		h.writeError(w, http.StatusNotFound, "Rule not found")
	case errors.Is(err, store.ErrVaultNotFound):
		h.writeError(w, http.StatusNotFound, "Vault not found")
	case errors.Is(err, app.ErrInvalidRule), errors.Is(err, app.ErrInvalidDistribution):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrRuleInactive), errors.Is(err, app.ErrInsufficientProfit):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrExecutionInProgress):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *AutomationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *AutomationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
