package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"glimpse/config"
	"glimpse/model"

	"go.uber.org/zap"
)

// validationTimeout bounds a single credential check.
const validationTimeout = 15 * time.Second

// ValidationResult is the outcome of checking one provider's credential.
type ValidationResult struct {
	ProviderID string
	Valid      bool
	Err        error
}

// ValidateProvider builds the adapter and runs its cheapest credential
// check. A keyed provider with no credential is reported invalid with
// model.ErrMissingAPIKey and no network call.
func (f *Factory) ValidateProvider(ctx context.Context, providerID, credential string, cfg config.ProviderConfig) ValidationResult {
	if f.registry != nil && credential == "" {
		if d, ok := f.registry.Get(providerID); ok && d.RequiresAPIKey {
			return ValidationResult{
				ProviderID: providerID,
				Valid:      false,
				Err:        model.ErrMissingAPIKey,
			}
		}
	}

	p, err := f.Create(providerID, credential, cfg)
	if err != nil {
		return ValidationResult{
			ProviderID: providerID,
			Valid:      false,
			Err:        fmt.Errorf("failed to create provider: %w", err),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, validationTimeout)
	defer cancel()

	valid := p.ValidateAPIKey(ctx)
	f.logger.Debug("provider validation finished",
		zap.String("provider", providerID), zap.Bool("valid", valid))

	result := ValidationResult{ProviderID: providerID, Valid: valid}
	if !valid {
		result.Err = model.ErrUnauthenticated
		if !f.requiresKey(providerID) {
			// Nothing to authenticate; the endpoint did not answer.
			result.Err = model.NewProviderError(strings.ToLower(providerID), model.ErrNetwork, 0, nil)
		}
	}
	return result
}

// requiresKey reports whether providerID needs a credential. Ids missing
// from the registry are treated as keyed.
func (f *Factory) requiresKey(providerID string) bool {
	if f.registry == nil {
		return true
	}
	d, ok := f.registry.Get(providerID)
	return !ok || d.RequiresAPIKey
}

// FetchModels lists a provider's models live when the adapter supports it
// and falls back to the declared list otherwise.
func FetchModels(ctx context.Context, p model.Provider) ([]model.ModelInfo, error) {
	lister, ok := p.(model.ModelLister)
	if !ok {
		return p.Models(), nil
	}
	models, err := lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	return models, nil
}
