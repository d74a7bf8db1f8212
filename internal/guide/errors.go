package guide

import "errors"

// Fetch errors. They are logged and counted; none of them reaches a caller
// of the Scheduler.
var (
	ErrNetworkFailure = errors.New("guide: metadata service unreachable")
	ErrEmptyResult    = errors.New("guide: no programmes returned")
	ErrDecodeFailure  = errors.New("guide: programme text could not be decoded")
	ErrSuperseded     = errors.New("guide: result superseded by a newer fetch")
)
