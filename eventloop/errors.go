package eventloop

import "errors"

// ErrLoopClosed is returned by Do when the loop stopped before the task ran.
var ErrLoopClosed = errors.New("event loop closed")
