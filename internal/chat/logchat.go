package chat

import "github.com/rs/zerolog"

// LogChat writes outgoing messages to the log instead of a chat service.
// Used when Telegram credentials are not configured, typically in
// simulation or development.
type LogChat struct {
	log zerolog.Logger
}

// NewLogChat creates a log-backed chat transport
func NewLogChat(log zerolog.Logger) *LogChat {
	return &LogChat{log: log.With().Str("component", "logchat").Logger()}
}

// Send logs the message and always succeeds
func (c *LogChat) Send(text string) error {
	c.log.Info().Msg("CHAT: " + text)
	return nil
}

// TestConnection always succeeds; there is nothing to reach
func (c *LogChat) TestConnection() error {
	return nil
}
