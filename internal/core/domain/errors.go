package domain

import "errors"

var (
	ErrCallInProgress   = errors.New("another call is already in progress")
	ErrNoActiveCall     = errors.New("no active call")
	ErrNoPendingInvite  = errors.New("no pending invite to answer")
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrFieldDisposed    = errors.New("field already disposed")
	ErrDeviceNotBound   = errors.New("no media device bound")
	ErrCalleeBusy       = errors.New("callee already in another call")
)
