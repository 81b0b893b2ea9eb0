package chat

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// ProvisionState records the outcome of the most recent provisioning attempt.
// Fatal marks a configuration-class failure no user action can retry past.
type ProvisionState struct {
	Attempted bool   `json:"attempted"`
	Failed    bool   `json:"failed"`
	Fatal     bool   `json:"fatal"`
	Error     string `json:"error,omitempty"`
}

// runProvisioning bootstraps the caller's remote messaging identity. It never
// returns an error; failure is recorded in the manager state for the retry
// path (and the UI) to inspect.
func (m *Manager) runProvisioning(ctx context.Context) {
	state := ProvisionState{Attempted: true}

	bearer, err := m.auth.BearerToken(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			log.Warn().Err(err).Msg("provisioning skipped, no bearer credential")
		}
		state.Failed = true
		state.Error = err.Error()
		m.storeProvisionState(state)
		return
	}

	if err := m.tokens.Provision(ctx, bearer); err != nil {
		state.Failed = true
		state.Fatal = IsFatalConfiguration(err)
		state.Error = err.Error()
		if state.Fatal {
			log.Error().Err(err).Msg("messaging provisioning failed: server misconfiguration")
		} else {
			log.Warn().Err(err).Msg("messaging provisioning failed")
		}
		m.storeProvisionState(state)
		return
	}

	log.Info().Msg("messaging identity provisioned")
	m.storeProvisionState(state)
}

func (m *Manager) storeProvisionState(state ProvisionState) {
	m.mu.Lock()
	m.provision = state
	m.mu.Unlock()
}
