package gateway

import (
	"boost-service/internal/config"
	"boost-service/internal/ledger"
)

// Codes classifies processor status codes. The success code is opaque and
// comes from the processor contract.
type Codes struct {
	success string
	pending map[string]struct{}
}

func NewCodes(cfg config.Gateway) Codes {
	pending := make(map[string]struct{}, len(cfg.PendingCodes))
	for _, code := range cfg.PendingCodes {
		pending[code] = struct{}{}
	}
	return Codes{success: cfg.SuccessCode, pending: pending}
}

// Sync classifies a synchronous charge response: success, a configured
// pending code, or failure.
func (c Codes) Sync(code string) ledger.Outcome {
	if code == c.success {
		return ledger.OutcomeSuccess
	}
	if _, ok := c.pending[code]; ok {
		return ledger.OutcomePending
	}
	return ledger.OutcomeFailure
}

// Webhook classifies the authoritative outcome. There is no pending here.
func (c Codes) Webhook(code string) ledger.Outcome {
	if code == c.success {
		return ledger.OutcomeSuccess
	}
	return ledger.OutcomeFailure
}

func (c Codes) SuccessCode() string {
	return c.success
}
