// Package provider adapts chat-model backends to the single Generator port used by
// the query and summary pipelines.
package provider

import (
	"context"
	"errors"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// FinishStop is the finish reason of a generation that ended naturally.
const FinishStop = "stop"

type Message struct {
	Role    Role
	Content string
}

// Request is one model call. N > 1 asks for several completions of the same prompt
// and is only valid when the backend reports Capabilities.N.
type Request struct {
	Messages    []Message
	N           int
	MaxTokens   int
	Temperature *float64
	Schema      *Schema
}

// Generation holds every completion returned by one call plus the call's usage.
type Generation struct {
	Texts            []string
	FinishReasons    []string
	PromptTokens     int64
	CompletionTokens int64
}

// Text returns the first completion, or "" when there is none.
func (g Generation) Text() string {
	if len(g.Texts) == 0 {
		return ""
	}
	return g.Texts[0]
}

// Capabilities reports which sampling parameters a backend honours.
type Capabilities struct {
	N         bool
	MaxTokens bool
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Generation, error)
	Capabilities() Capabilities
	Model() string
}

var (
	ErrUnsupported = errors.New("parameter not supported by backend")
	ErrEmptyOutput = errors.New("backend returned no completions")
)

// Float is a helper for Request.Temperature.
func Float(v float64) *float64 { return &v }

// System and User build messages.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }
