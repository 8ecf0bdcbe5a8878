package conversations

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned by operations that need live subscriptions.
var ErrNotStarted = errors.New("conversation list not started")

// InconsistentStateWarning reports a multi-step write that stopped half way:
// the conversation exists but a member could not be added. The conversation
// is left in place.
type InconsistentStateWarning struct {
	Operation      string
	ConversationID string
	UserID         string
	Err            error
}

func (w *InconsistentStateWarning) Error() string {
	return fmt.Sprintf("%s: conversation %s created but member %s was not added: %v",
		w.Operation, w.ConversationID, w.UserID, w.Err)
}

func (w *InconsistentStateWarning) Unwrap() error {
	return w.Err
}
