// Package ai provides a provider-agnostic completion gateway used to draft quiz questions.
package ai

import "context"

// TaskQuizGeneration labels quiz drafting requests in logs.
const TaskQuizGeneration = "quiz_generation"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message
	Model       string // empty selects the provider default
	MaxTokens   int
	Temperature float64
	Task        string
	// JSON asks the provider to constrain output to a single JSON object.
	JSON bool
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// TotalTokens is what a completion costs against a course budget.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is a completion backend the Router can fall back across.
type Provider interface {
	Completer
	HealthCheck(ctx context.Context) error
}

// Completer is what callers need from a provider or a Router.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
