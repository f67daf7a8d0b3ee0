package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/ordering"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/service"
)

// actorFromRequest 当前用户（网关注入的请求头）
func actorFromRequest(r *http.Request) service.Actor {
	return service.Actor{
		UserID:   r.Header.Get("X-User-Id"),
		TenantID: r.Header.Get("X-Tenant-Id"),
		UserType: r.Header.Get("X-User-Type"),
		Role:     r.Header.Get("X-User-Role"),
	}
}

// statusForError 错误分类 -> HTTP 状态码
//
//	ValidationError 400, DeadlinePassedError 422, AuthorizationError 403, not found 404,
//	PaymentError 402（超时 504）, ConflictError 409, 其他 500
func statusForError(err error) (int, string) {
	var perr *ordering.PaymentError
	switch {
	case ordering.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case ordering.IsDeadlinePassed(err):
		return http.StatusUnprocessableEntity, err.Error()
	case ordering.IsAuthorization(err):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, ordering.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.As(err, &perr):
		if perr.Timeout {
			return http.StatusGatewayTimeout, perr.Error()
		}
		return http.StatusPaymentRequired, perr.Error()
	case ordering.IsConflict(err):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func writeServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	status, msg := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
	}
	writeJSON(w, status, Fail(msg))
}
