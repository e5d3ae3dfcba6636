package telemeter

import (
	"github.com/jd3nn1s/telemeter/position"
)

// PositionSource delivers raw samples until the returned cancel func is
// called. onError means the stream is interrupted. No callbacks are made
// after cancel returns.
type PositionSource interface {
	Subscribe(onSample func(position.Sample), onError func(msg string)) (cancel func())
}

type Forwarder interface {
	Forward(newSnapshot *Snapshot, prevSnapshot *Snapshot) error
}
