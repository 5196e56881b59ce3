package signal

import (
	"errors"
	"fmt"
)

var (
	errRateLimited   = errors.New("rate limit exceeded")
	errEmptyRoom     = errors.New("room name is required")
	errNotSubscribed = errors.New("not subscribed to room")
)

func errUnknownFrame(frameType string) error {
	return fmt.Errorf("unknown frame type: %s", frameType)
}
