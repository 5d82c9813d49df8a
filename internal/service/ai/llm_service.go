package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/eray/backend/internal/model/llm"
)

// Service dispatches completion requests to the provider that serves the
// requested model.
type Service struct {
	registry  *llm.Registry
	providers map[llm.Provider]Provider
}

// NewService creates a Service. Providers are registered with Register.
func NewService(registry *llm.Registry) *Service {
	return &Service{
		registry:  registry,
		providers: make(map[llm.Provider]Provider),
	}
}

// Register binds a provider implementation to a provider family.
func (s *Service) Register(name llm.Provider, provider Provider) {
	s.providers[name] = provider
}

// Registry exposes the model registry the service resolves keys against.
func (s *Service) Registry() *llm.Registry {
	return s.registry
}

// Available reports whether a provider is configured for the model.
func (s *Service) Available(spec llm.ModelSpec) bool {
	_, ok := s.providers[spec.Provider]
	return ok
}

// Stream resolves the model key and opens a stream of text deltas.
func (s *Service) Stream(ctx context.Context, req Request) (*schema.StreamReader[string], error) {
	spec, err := s.registry.Resolve(req.ModelKey, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, req.ModelKey)
	}

	provider, ok := s.providers[spec.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, spec.Provider)
	}

	log.Printf("[ai] stream model=%s provider=%s messages=%d", spec.Key, spec.Provider, len(req.Messages))

	stream, err := provider.Stream(ctx, spec, req.Messages, req.Temperature)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		return nil, err
	}
	return stream, nil
}

// Complete streams a request and returns the assembled text. onToken, when
// set, receives every delta in arrival order. After cancellation onToken is
// no longer called and the error matches ErrCanceled; failures after the
// stream opened are reported as *StreamError.
func (s *Service) Complete(ctx context.Context, req Request, onToken func(string)) (string, error) {
	stream, err := s.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(ctx, stream, onToken)
}

// Collect drains a delta stream with the same semantics as Complete.
func Collect(ctx context.Context, stream *schema.StreamReader[string], onToken func(string)) (string, error) {
	defer stream.Close()

	var builder strings.Builder
	for {
		if ctx.Err() != nil {
			return builder.String(), fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return builder.String(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return builder.String(), fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
			}
			return builder.String(), &StreamError{Partial: builder.String(), Err: err}
		}
		if ctx.Err() != nil {
			return builder.String(), fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}

		builder.WriteString(chunk)
		if onToken != nil {
			onToken(chunk)
		}
	}
}
