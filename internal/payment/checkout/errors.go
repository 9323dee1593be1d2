package checkout

import (
	"fmt"
	"strings"
)

// ProviderError is a final non-2xx answer from the payment provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = "Unknown error"
	}
	return fmt.Sprintf("Dodo API error: %d - %s", e.StatusCode, body)
}

func (e *ProviderError) Upstream() string { return "dodo" }
