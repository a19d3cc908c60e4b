package handlers

import (
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/duskcast/streamcore/internal/apperror"
)

// translateError maps an apperror.AppError to the huma error matching
// spec's status-code table. Raw-stream endpoints (stream.go) handle
// apperror.Busy themselves with a real 202 + Retry-After, since a huma
// error response has no room for an in-progress success; every other
// handler routes its errors through here.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ae *apperror.AppError
	if !errors.As(err, &ae) {
		return huma.Error500InternalServerError("internal error", err)
	}

	switch ae.Kind {
	case apperror.KindNotFound:
		return huma.Error404NotFound(ae.Message)
	case apperror.KindTierDenied:
		return huma.Error403Forbidden(ae.Message)
	case apperror.KindBusy:
		return huma.Error409Conflict(fmt.Sprintf("%s (retry after %ds)", ae.Message, ae.RetryAfter))
	case apperror.KindConflict:
		return huma.Error409Conflict(ae.Message)
	case apperror.KindBadInput:
		return huma.Error400BadRequest(ae.Message)
	case apperror.KindTokenInvalid:
		return huma.Error403Forbidden(fmt.Sprintf("%s: %s", ae.Message, ae.Reason))
	case apperror.KindLockTimeout:
		return huma.Error409Conflict(ae.Message)
	case apperror.KindStorageFailure, apperror.KindTranscodeFailure:
		return huma.Error500InternalServerError(ae.Message)
	default:
		return huma.Error500InternalServerError(ae.Message)
	}
}
