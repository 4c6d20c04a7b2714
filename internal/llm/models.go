package llm

import "github.com/slipstream-ai/realtime-gateway/internal/model"

// defaultModels maps each provider to the model used when the client does
// not request one, or requests one we do not recognize.
var defaultModels = map[model.Provider]string{
	model.ProviderOpenAI:    "gpt-4.1-nano",
	model.ProviderGemini:    "gemini-2.5-flash",
	model.ProviderGrok:      "grok-4",
	model.ProviderAnthropic: "claude-sonnet-4-20250514",
}

var supportedModels = map[model.Provider][]string{
	model.ProviderOpenAI: {
		"gpt-5",
		"gpt-5-mini",
		"gpt-5-nano",
		"gpt-4.1",
		"gpt-4.1-mini",
		"gpt-4.1-nano",
		"o4-mini",
		"o3",
		"o3-mini",
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	},
	model.ProviderGemini: {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
	},
	model.ProviderGrok: {
		"grok-4",
		"grok-4-0709",
		"grok-3",
		"grok-3-fast",
		"grok-3-mini",
		"grok-3-mini-fast",
	},
	model.ProviderAnthropic: {
		"claude-opus-4-1-20250805",
		"claude-opus-4-20250514",
		"claude-sonnet-4-20250514",
		"claude-3-7-sonnet-20250219",
		"claude-3-5-haiku-20241022",
		"claude-3-5-sonnet-20241022",
		"claude-3-5-sonnet-20240620",
		"claude-3-haiku-20240307",
	},
}

// GetModel resolves the model to use for a provider. The requested model is
// honored only when it appears in the provider's supported list; anything
// else, including the empty string, falls back to the provider default.
func GetModel(provider model.Provider, requested string) string {
	if requested != "" {
		for _, m := range supportedModels[provider] {
			if m == requested {
				return requested
			}
		}
	}
	return defaultModels[provider]
}

// SupportedModels returns the supported model list for a provider.
func SupportedModels(provider model.Provider) []string {
	return supportedModels[provider]
}
