// ABOUTME: Registry of in-process tools exposed over MCP.
// ABOUTME: Checks required arguments from each tool's schema before dispatching.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/matdevis-gateway/internal/underwriting"
)

// Registry errors
var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrDuplicateTool = errors.New("duplicate tool name")
)

// Call outcomes reported to the Observer.
const (
	OutcomeOK           = "ok"
	OutcomeInvalidInput = "invalid_input"
	OutcomeError        = "error"
)

// Handler executes a tool with its JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Result is the outcome of a tool call.
type Result struct {
	Text       string
	Structured any  // optional machine-readable payload
	IsError    bool // the call ran but the arguments were rejected
}

// Tool is a named operation with a JSON Schema for its arguments.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler

	required []string
}

// Observer receives one event per call, typically for metrics. May be nil.
type Observer interface {
	ToolCall(name, outcome string, elapsed time.Duration)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Logger   *slog.Logger
	Observer Observer
	// FailureText renders rejected arguments for the caller. Nil uses err.Error().
	FailureText func(error) string
}

// Registry holds tools in registration order.
type Registry struct {
	tools       []*Tool
	byName      map[string]*Tool
	logger      *slog.Logger
	observer    Observer
	failureText func(error) string
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	failureText := cfg.FailureText
	if failureText == nil {
		failureText = func(err error) string { return err.Error() }
	}
	return &Registry{
		byName:      make(map[string]*Tool),
		logger:      logger,
		observer:    cfg.Observer,
		failureText: failureText,
	}
}

// Register adds tools. Each schema must be a JSON object.
func (r *Registry) Register(tools ...*Tool) error {
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return fmt.Errorf("tool %q: name and handler are required", t.Name)
		}
		if _, ok := r.byName[t.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
		}
		var schema struct {
			Type     string   `json:"type"`
			Required []string `json:"required"`
		}
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return fmt.Errorf("tool %q: invalid input schema: %w", t.Name, err)
		}
		if schema.Type != "object" {
			return fmt.Errorf("tool %q: input schema must be an object", t.Name)
		}
		t.required = schema.Required
		r.tools = append(r.tools, t)
		r.byName[t.Name] = t
	}
	return nil
}

// List returns every tool in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Call runs the named tool. Invalid arguments produce an error Result rather
// than an error; the returned error is reserved for unknown tools and faults.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	t, ok := r.byName[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	start := time.Now()
	res, err := r.call(ctx, t, args)
	elapsed := time.Since(start)

	outcome := OutcomeOK
	switch {
	case errors.Is(err, underwriting.ErrInvalidInput):
		outcome = OutcomeInvalidInput
		r.logger.Info("tool arguments rejected", "tool", name, "error", err)
		res = Result{Text: r.failureText(err), IsError: true}
		err = nil
	case err != nil:
		outcome = OutcomeError
		r.logger.Warn("tool call failed", "tool", name, "error", err)
	case res.IsError:
		outcome = OutcomeInvalidInput
	}
	if r.observer != nil {
		r.observer.ToolCall(name, outcome, elapsed)
	}
	return res, err
}

func (r *Registry) call(ctx context.Context, t *Tool, args json.RawMessage) (Result, error) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(args, &present); err != nil {
		return Result{}, fmt.Errorf("%w: arguments must be an object", underwriting.ErrInvalidInput)
	}
	for _, key := range t.required {
		v, ok := present[key]
		if !ok || string(v) == "null" {
			return Result{}, fmt.Errorf("%w: %s is required", underwriting.ErrInvalidInput, key)
		}
	}
	return t.Handler(ctx, args)
}

// decodeArgs unmarshals tool arguments, reporting type mismatches as invalid input.
func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: %s must be %s", underwriting.ErrInvalidInput, typeErr.Field, typeErr.Type)
		}
		return fmt.Errorf("%w: %v", underwriting.ErrInvalidInput, err)
	}
	return nil
}
