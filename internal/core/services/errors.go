package services

import (
	"errors"
	"net/http"
	"strings"

	"voxsfu/internal/core/domain"
	apperrors "voxsfu/pkg/errors"
)

var errorCodes = []struct {
	sentinel error
	code     apperrors.ErrorCode
	status   int
}{
	{domain.ErrRoomUnavailable, apperrors.ErrCodeRoomUnavailable, http.StatusServiceUnavailable},
	{domain.ErrWorkerClosed, apperrors.ErrCodeRoomUnavailable, http.StatusServiceUnavailable},
	{domain.ErrRoomNotFound, apperrors.ErrCodeRoomNotFound, http.StatusNotFound},
	{domain.ErrPeerNotFound, apperrors.ErrCodePeerNotFound, http.StatusNotFound},
	{domain.ErrTransportNotFound, apperrors.ErrCodeTransportNotFound, http.StatusNotFound},
	{domain.ErrProducerNotFound, apperrors.ErrCodeProducerNotFound, http.StatusNotFound},
	{domain.ErrConsumerNotFound, apperrors.ErrCodeConsumerNotFound, http.StatusNotFound},
	{domain.ErrIncompatibleCapabilities, apperrors.ErrCodeIncompatibleCapabilities, http.StatusUnprocessableEntity},
	{domain.ErrAuthenticationFailed, apperrors.ErrCodeAuthenticationFailed, http.StatusUnauthorized},
	{domain.ErrInvalidRequest, apperrors.ErrCodeInvalidRequest, http.StatusBadRequest},
}

// ToAppError classifies err into the client-facing taxonomy. Unknown
// errors become InternalError with a generic message so that internals do
// not leak to clients.
func ToAppError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	for _, e := range errorCodes {
		if !errors.Is(err, e.sentinel) {
			continue
		}
		msg := err.Error()
		switch e.code {
		case apperrors.ErrCodeRoomUnavailable:
			msg = "room is temporarily unavailable"
		case apperrors.ErrCodeAuthenticationFailed:
			msg = "authentication failed"
		case apperrors.ErrCodeIncompatibleCapabilities:
			msg = "rtp capabilities cannot receive this producer"
		default:
			msg = strings.TrimSpace(msg)
		}
		return apperrors.WrapError(err, e.code, msg, e.status)
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
}
