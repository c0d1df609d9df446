package trader

// EventHandler processes one event type inside the engine loop.
type EventHandler interface {
	// Type returns the event type this handler processes.
	Type() EventType

	// Handle processes the event and returns an error if processing failed.
	Handle(ctx *HandlerContext, evt EventEnvelope) error
}

// HandlerContext gives handlers access to Engine internals without exposing
// the whole struct.
type HandlerContext struct {
	engine *Engine
}

// NewHandlerContext creates a handler context wrapping an Engine.
func NewHandlerContext(e *Engine) *HandlerContext {
	return &HandlerContext{engine: e}
}

// Engine returns the underlying Engine instance.
func (c *HandlerContext) Engine() *Engine {
	return c.engine
}
