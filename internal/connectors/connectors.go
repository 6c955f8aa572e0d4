package connectors

import "context"

type Connector interface {
	Name() string
	Start(ctx context.Context) error
}

// Publisher posts plain text to a channel on a connector.
type Publisher interface {
	Publish(ctx context.Context, channelID, text string) error
}
