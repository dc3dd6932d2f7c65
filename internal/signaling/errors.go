package signaling

import "errors"

// ErrProtocol marks a malformed JSON frame or an unrecognized "type".
var ErrProtocol = errors.New("protocol error")

// ErrNotRegistered marks any envelope other than register arriving
// before a successful register on that session.
var ErrNotRegistered = errors.New("Not registered")

// ErrTargetMissing marks a target_user_id that is not a registered peer.
var ErrTargetMissing = errors.New("Target user not found")

// ErrAlreadyRegistered marks a second register on an already-registered
// session. See DESIGN.md for why this is rejected rather than ignored.
var ErrAlreadyRegistered = errors.New("already registered")
