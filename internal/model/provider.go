package model

// Provider identifies an upstream chat vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderGrok      Provider = "grok"
)

// NormalizeProvider maps an unknown or empty provider to the default.
func NormalizeProvider(p Provider) Provider {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderGrok:
		return p
	default:
		return ProviderOpenAI
	}
}
