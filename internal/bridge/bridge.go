package bridge

import (
	"context"

	"github.com/google/uuid"
)

// CallBridge abstracts the external call-execution collaborator. The
// acknowledgement is synchronous and only says whether the call left the
// ground; the actual outcome arrives later as an OutcomeEvent, possibly
// never.
type CallBridge interface {
	InitiateCall(ctx context.Context, agentID uuid.UUID, phone string) error
}
