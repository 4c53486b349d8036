package llmprovider

import "fmt"

// New constructs the ChatClient for the configured provider variant
// ("mistral" or "chocolatine"). oauth is optional; when non-nil (TokenURL
// set) the client refreshes a Bearer token via client-credentials instead
// of sending apiKey. Unrecognised variants are a startup-time configuration
// error (apperr.KindFatal at the caller).
func New(variant, baseURL, apiKey, model string, oauth *OAuthConfig) (ChatClient, error) {
	switch variant {
	case "mistral":
		return NewMistral(baseURL, apiKey, model, oauth), nil
	case "chocolatine":
		return NewChocolatine(baseURL, apiKey, model, oauth), nil
	default:
		return nil, fmt.Errorf("llmprovider.New: unknown provider variant %q", variant)
	}
}
