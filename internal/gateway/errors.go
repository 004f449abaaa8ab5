package gateway

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid charge request")
	ErrPayerNotOnboarded  = errors.New("payer has no subscriber id on file")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
