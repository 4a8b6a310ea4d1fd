package stream

// Message is one turn of an OpenAI-style chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TemplateKwargs carries options forwarded to the server's chat
// template. llama-server reads enable_thinking to toggle reasoning
// output on models that support it.
type TemplateKwargs struct {
	EnableThinking bool `json:"enable_thinking"`
}

// ChatRequest is the body of a chat-completions call. Stream must be
// true for Client.Generate; the zero Model is omitted so single-model
// servers pick their loaded model.
type ChatRequest struct {
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	TopP           float64         `json:"top_p"`
	TopK           int             `json:"top_k"`
	MinP           float64         `json:"min_p"`
	RepeatPenalty  float64         `json:"repeat_penalty"`
	Seed           int             `json:"seed"`
	Model          string          `json:"model,omitempty"`
	TemplateKwargs *TemplateKwargs `json:"chat_template_kwargs,omitempty"`
	CachePrompt    bool            `json:"cache_prompt,omitempty"`
}

// NewChatRequest builds a streaming request with the sampling defaults
// llama-server itself uses for interactive chat.
func NewChatRequest(systemPrompt, prompt string) ChatRequest {
	var messages []Message
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	return ChatRequest{
		Messages:       messages,
		Stream:         true,
		MaxTokens:      2048,
		Temperature:    0.7,
		TopP:           0.9,
		TopK:           40,
		MinP:           0.05,
		RepeatPenalty:  1.1,
		TemplateKwargs: &TemplateKwargs{EnableThinking: true},
	}
}
