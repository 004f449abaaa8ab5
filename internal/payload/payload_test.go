package payload

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expected      decimal.Decimal
		expectedError bool
	}{
		{name: "String", body: `{"amount":"50.00"}`, expected: decimal.RequireFromString("50")},
		{name: "Number", body: `{"amount":12.5}`, expected: decimal.RequireFromString("12.5")},
		{name: "Null", body: `{"amount":null}`, expected: decimal.Zero},
		{name: "Missing", body: `{}`, expected: decimal.Zero},
		{name: "EmptyString", body: `{"amount":""}`, expected: decimal.Zero},
		{name: "Garbage", body: `{"amount":"abc"}`, expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Notification
			err := json.Unmarshal([]byte(tt.body), &n)
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(n.Amount.Decimal), "got %s", n.Amount.String())
		})
	}
}
