package roller

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_gateway.go -package=mocks rollgen/internal/roller Gateway
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_service.go -package=mocks -mock_names=Service=MockService rollgen/internal/roller Service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rollgen/internal/contextutil"
	"rollgen/internal/llm"
)

// errStop aborts an in-progress fragment stream once the stop marker has
// been seen; the rest of the call's output is of no interest.
var errStop = errors.New("stop marker found")

// Gateway is the model invocation boundary, defined from the controller's
// perspective (consumer-first). Both the OpenAI-compatible and the Ollama
// clients satisfy it.
type Gateway interface {
	// Complete sends the conversation and returns the call's full text.
	Complete(ctx context.Context, messages []llm.Message, maxTokens int) (string, error)
	// StreamComplete sends the conversation and delivers the call's text
	// as an ordered sequence of fragments via fn.
	StreamComplete(ctx context.Context, messages []llm.Message, maxTokens int, fn func(fragment string) error) error
}

// TaskConfig holds the caller-supplied parameters of one generation task.
// It is not mutated by the controller.
type TaskConfig struct {
	// Prompt is the task description. Required.
	Prompt string `validate:"required"`

	// MaxTokensPerCall caps the output length of each individual gateway
	// call. Required, must be positive.
	MaxTokensPerCall int

	// StopMarker is the literal the model appends once the whole task is
	// complete. Defaults to DefaultStopMarker. The marker must not occur
	// in legitimate content; that is the caller's responsibility.
	StopMarker string

	// ContinueInstruction is the user message appended after each
	// non-terminal call. Defaults to DefaultContinueInstruction.
	ContinueInstruction string

	// MaxCalls bounds the number of gateway calls. 0 means unbounded,
	// which loops forever if the model never emits the marker.
	MaxCalls int
}

// Result is the finalized outcome of one generation task.
type Result struct {
	// Text is the accumulated output truncated at the stop marker. It
	// never contains the marker.
	Text string
	// Calls is the number of gateway calls the task took.
	Calls int
}

// Service drives rolling continuation generation: it re-invokes the
// gateway with the growing conversation until the stop marker appears,
// then strips the marker and returns the assembled text.
type Service interface {
	// Generate runs a task in buffered mode and returns the finalized text.
	Generate(ctx context.Context, cfg TaskConfig) (Result, error)
	// GenerateStream runs a task in streaming mode, forwarding fragments
	// to sink as they arrive, and returns the finalized text at the end.
	// Text belonging to the stop marker is never forwarded to sink.
	GenerateStream(ctx context.Context, cfg TaskConfig, sink func(fragment string) error) (Result, error)
}

// service implements Service.
type service struct {
	gateway Gateway
}

// NewService creates a Service driving the given gateway.
func NewService(gateway Gateway) Service {
	return &service{gateway: gateway}
}

// withDefaults validates the config and fills in defaulted fields.
func (c TaskConfig) withDefaults() (TaskConfig, error) {
	if strings.TrimSpace(c.Prompt) == "" {
		return c, &ValidationError{Field: "prompt", Message: "cannot be empty"}
	}
	if c.MaxTokensPerCall <= 0 {
		return c, &ValidationError{Field: "max_tokens_per_call", Message: "must be positive"}
	}
	if c.MaxCalls < 0 {
		return c, &ValidationError{Field: "max_calls", Message: "cannot be negative"}
	}
	if c.StopMarker == "" {
		c.StopMarker = DefaultStopMarker
	}
	if c.ContinueInstruction == "" {
		c.ContinueInstruction = DefaultContinueInstruction
	}
	return c, nil
}

// Generate runs the continuation loop in buffered mode.
func (s *service) Generate(ctx context.Context, cfg TaskConfig) (Result, error) {
	logger := contextutil.LoggerFromContext(ctx)

	cfg, err := cfg.withDefaults()
	if err != nil {
		logger.WarnContext(ctx, "invalid task config", "error", err)
		return Result{}, err
	}

	conversation := initialConversation(cfg)

	var accumulated strings.Builder
	calls := 0
	searchFrom := 0

	for {
		if cfg.MaxCalls > 0 && calls >= cfg.MaxCalls {
			logger.WarnContext(ctx, "generation limit exceeded", "max_calls", cfg.MaxCalls)
			return Result{}, &LimitError{MaxCalls: cfg.MaxCalls}
		}

		text, err := s.gateway.Complete(ctx, conversation, cfg.MaxTokensPerCall)
		if err != nil {
			logger.ErrorContext(ctx, "gateway call failed", "call", calls+1, "error", err)
			return Result{}, &GatewayError{Call: calls + 1, Err: err}
		}
		calls++

		// Keep the model-visible history growing: the next call must see
		// everything the model already wrote.
		conversation = append(conversation, llm.AssistantMessage(text))
		accumulated.WriteString(text)

		// The marker can straddle the boundary between two calls, so the
		// search window reaches len(marker)-1 chars into the previous tail.
		acc := accumulated.String()
		if idx := strings.Index(acc[searchFrom:], cfg.StopMarker); idx >= 0 {
			final := acc[:searchFrom+idx]
			logger.InfoContext(ctx, "generation complete", "calls", calls, "length", len(final))
			return Result{Text: final, Calls: calls}, nil
		}
		searchFrom = len(acc) - len(cfg.StopMarker) + 1
		if searchFrom < 0 {
			searchFrom = 0
		}

		conversation = append(conversation, llm.UserMessage(cfg.ContinueInstruction))
	}
}

// GenerateStream runs the continuation loop in streaming mode.
func (s *service) GenerateStream(ctx context.Context, cfg TaskConfig, sink func(fragment string) error) (Result, error) {
	logger := contextutil.LoggerFromContext(ctx)

	cfg, err := cfg.withDefaults()
	if err != nil {
		logger.WarnContext(ctx, "invalid task config", "error", err)
		return Result{}, err
	}
	if sink == nil {
		return Result{}, &ValidationError{Field: "sink", Message: "cannot be nil"}
	}

	conversation := initialConversation(cfg)

	var final strings.Builder
	calls := 0

	for {
		if cfg.MaxCalls > 0 && calls >= cfg.MaxCalls {
			logger.WarnContext(ctx, "generation limit exceeded", "max_calls", cfg.MaxCalls)
			return Result{}, &LimitError{MaxCalls: cfg.MaxCalls}
		}

		scanner := newMarkerScanner(cfg.StopMarker)
		var callText strings.Builder
		var sinkErr error

		err := s.gateway.StreamComplete(ctx, conversation, cfg.MaxTokensPerCall, func(fragment string) error {
			callText.WriteString(fragment)
			emit := scanner.Feed(fragment)
			if emit != "" {
				final.WriteString(emit)
				if err := sink(emit); err != nil {
					sinkErr = err
					return err
				}
			}
			if scanner.Found() {
				return errStop
			}
			return nil
		})
		if sinkErr != nil {
			logger.ErrorContext(ctx, "output sink failed", "call", calls+1, "error", sinkErr)
			return Result{}, fmt.Errorf("output sink failed: %w", sinkErr)
		}
		if err != nil && !errors.Is(err, errStop) {
			logger.ErrorContext(ctx, "gateway stream failed", "call", calls+1, "error", err)
			return Result{}, &GatewayError{Call: calls + 1, Err: err}
		}
		calls++

		conversation = append(conversation, llm.AssistantMessage(callText.String()))

		if scanner.Found() {
			logger.InfoContext(ctx, "generation complete", "calls", calls, "length", final.Len())
			return Result{Text: final.String(), Calls: calls}, nil
		}

		// No marker this call: the withheld tail was a false prefix and
		// still belongs to the output.
		if rest := scanner.Flush(); rest != "" {
			final.WriteString(rest)
			if err := sink(rest); err != nil {
				logger.ErrorContext(ctx, "output sink failed", "call", calls, "error", err)
				return Result{}, fmt.Errorf("output sink failed: %w", err)
			}
		}

		conversation = append(conversation, llm.UserMessage(cfg.ContinueInstruction))
	}
}
