package core

import (
	"context"

	"github.com/dkeye/peercall/internal/domain"
)

//go:generate mockgen -destination=mocks/calllog_mock.go -package=mocks . CallLog

// CallLog accepts one message per finished call.
type CallLog interface {
	Record(ctx context.Context, callID domain.CallID, author domain.UserID, text string) error
}
