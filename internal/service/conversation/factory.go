package conversation

import (
	"context"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

// Factory builds engines that share stores, endpoint and registry. HTTP
// requests, websocket connections and the CLI each get their own engine.
type Factory struct {
	base Options
}

// NewFactory captures the shared options. Scope, Listener and BaseContext
// are set per engine.
func NewFactory(base Options) *Factory {
	return &Factory{base: base}
}

// New creates an engine for one caller.
func (f *Factory) New(ctx context.Context, scope chat.Scope, listener Listener) *Engine {
	opts := f.base
	opts.Scope = scope
	opts.Listener = listener
	opts.BaseContext = ctx
	return NewEngine(opts)
}
