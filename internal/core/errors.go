package core

import "errors"

// ErrRoomClosed is returned by queries against a room whose actor has
// stopped.
var ErrRoomClosed = errors.New("room closed")
