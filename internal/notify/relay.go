package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/agenticai/healthguard/internal/workflow"
)

// StatusSource streams every status record written anywhere in the
// system; the Redis status store's firehose channel implements it.
type StatusSource interface {
	SubscribeAll(ctx context.Context) (<-chan workflow.StatusRecord, func(), error)
}

// Relay bridges status-store pub/sub into hub topics so WebSocket
// listeners see live progress without polling.
type Relay struct {
	hub    *Hub
	source StatusSource
}

// NewRelay creates a relay from a status source into the hub
func NewRelay(hub *Hub, source StatusSource) *Relay {
	return &Relay{hub: hub, source: source}
}

// Run forwards status records until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	records, stop, err := r.source.SubscribeAll(ctx)
	if err != nil {
		return err
	}
	defer stop()

	log.Printf("[Notify] Status relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			data, err := json.Marshal(rec)
			if err != nil {
				log.Printf("[Notify] Warning: failed to marshal status record: %v", err)
				continue
			}
			r.hub.Broadcast(rec.WorkflowID, data)
		}
	}
}
