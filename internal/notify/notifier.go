package notify

// TextNotifier is a minimal push-notification interface so components can
// alert operators without importing a concrete transport.
type TextNotifier interface {
	SendText(text string) error
}

// Noop discards all notifications. Used when no transport is configured.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
