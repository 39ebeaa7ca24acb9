package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/shortener"
	"applinks.local/internal/platform/auth"
	"applinks.local/internal/platform/httpmiddleware"
)

// NewCreateLinkHandler POST /links，body 是 shortener.Request，成功返回 201 + shortener.Result。
func NewCreateLinkHandler(sdk SDK) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req shortener.Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		res, err := sdk.CreateShortLink(r.Context(), req)
		if err != nil {
			status := createStatus(err)
			if status >= http.StatusInternalServerError {
				slog.Error("create short link failed", "err", err, "kind", deeplink.KindOf(err))
			}
			httpmiddleware.WriteError(w, status, err.Error())
			return
		}
		if id, ok := auth.GetIdentity(r.Context()); ok {
			slog.Info("short link created", "id", res.ID, "by", id.Subject)
		}
		httpmiddleware.WriteJSON(w, http.StatusCreated, res)
	}
}

// createStatus 把错误分类映射成状态码：入参问题是 400，解析服务的问题统一 502。
func createStatus(err error) int {
	switch {
	case errors.Is(err, deeplink.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, deeplink.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, deeplink.ErrAuth),
		errors.Is(err, deeplink.ErrNetwork),
		errors.Is(err, deeplink.ErrDecode),
		errors.Is(err, deeplink.ErrServer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
