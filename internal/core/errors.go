package core

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAcquisition = errors.New("media acquisition failed")
	ErrNegotiation      = errors.New("negotiation failed")
	ErrSignalDelivery   = errors.New("signal delivery failed")
	ErrCandidateApply   = errors.New("candidate apply failed")
	ErrConnectivity     = errors.New("connectivity failure")

	ErrNoConnection  = errors.New("no connection")
	ErrSessionExists = errors.New("session already active for call")
)

// Wrap tags err with one of the taxonomy sentinels. A nil err stays nil.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
