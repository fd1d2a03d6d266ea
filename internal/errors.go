package opsdeck

import "errors"

// Sentinel errors for the opsdeck domain.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUpstream     = errors.New("upstream error")
	ErrPanelUnknown = errors.New("unknown panel")
	ErrClosed       = errors.New("orchestrator closed")
)
