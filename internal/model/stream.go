package model

// StreamMetadata describes a buffered stream.
type StreamMetadata struct {
	Model        string   `json:"model,omitempty"`
	Provider     Provider `json:"provider,omitempty"`
	Title        string   `json:"title,omitempty"`
	TotalChunks  int      `json:"totalChunks"`
	Completed    bool     `json:"completed"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"topP,omitempty"`
}

// StreamState is the resumable per-conversation chunk buffer.
//
// Chunks is append-only while Completed is false; once Completed is true the
// buffer is immutable and TotalChunks equals len(Chunks).
type StreamState struct {
	Chunks         []string       `json:"chunks"`
	ThinkingChunks []string       `json:"thinkingChunks,omitempty"`
	Metadata       StreamMetadata `json:"metadata"`
}
