package orchestrator

import (
	"fmt"
	"net/url"

	"github.com/aescanero/genflow/pkg/domain"
)

// Validator validates process start requests
type Validator struct{}

// NewValidator creates a new start request validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the pipeline structure and the webhook targets
func (v *Validator) Validate(p *domain.Pipeline, webhooks []string) error {
	if p == nil {
		return fmt.Errorf("%w: pipeline is nil", domain.ErrInvalidPipeline)
	}

	if !p.Validated() {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	for _, hook := range webhooks {
		if err := v.validateWebhook(hook); err != nil {
			return fmt.Errorf("%w %q: %v", domain.ErrInvalidWebhook, hook, err)
		}
	}

	return nil
}

// validateWebhook validates a single webhook URL
func (v *Validator) validateWebhook(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}

	if u.Host == "" {
		return fmt.Errorf("host is required")
	}

	return nil
}
