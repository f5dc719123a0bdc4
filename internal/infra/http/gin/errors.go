package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"ticketexchange/internal/app/retry"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
	"ticketexchange/internal/domain/shared/money"
	"ticketexchange/internal/infra/obs"
)

func statusForError(err error) int {
	switch {
	case errors.Is(err, listings.ErrTitleRequired),
		errors.Is(err, listings.ErrScheduleRequired),
		errors.Is(err, listings.ErrQuantityRange),
		errors.Is(err, listings.ErrSellerRequired),
		errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrSameParticipant),
		errors.Is(err, chat.ErrParticipantRequired),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrNegativeAmount),
		errors.Is(err, money.ErrInvalidCurrency):
		return http.StatusBadRequest
	case errors.Is(err, listings.ErrNotAvailable),
		errors.Is(err, listings.ErrNotReserved),
		errors.Is(err, listings.ErrBuyerMismatch),
		errors.Is(err, listings.ErrAlreadyFinalized),
		errors.Is(err, listings.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, listings.ErrForbidden),
		errors.Is(err, chat.ErrForbidden),
		errors.Is(err, chat.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, listings.ErrListingNotFound),
		errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, identity.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, retry.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusForError(err)
	if logger != nil && status >= http.StatusInternalServerError {
		fields := []any{"status", status, "error", err, "path", c.FullPath()}
		if id := obs.RequestIDFromContext(c.Request.Context()); id != "" {
			fields = append(fields, "request_id", id)
		}
		if p, ok := currentPrincipal(c); ok {
			fields = append(fields, "user_id", p.ID)
		}
		logger.Error("request failed", fields...)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
