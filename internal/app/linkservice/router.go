package linkservice

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"applinks.local/internal/app/applinks/linkapi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// ReferrerHeader 点击跳转时带回的安装来源串，客户端可以把它原样当成 install referrer。
const ReferrerHeader = "X-Applinks-Referrer"

// NewRouter 挂载解析服务的 HTTP 接口。
//
// apiKey 非空时 /api/v1 下的接口都要求 Authorization: Bearer <apiKey>。
// GET /{alias} 按 Host 找到链接，记一次 visit 后 302 到 original_url。
func NewRouter(svc *Service, apiKey string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(requireKey(apiKey))
		api.Post("/links/retrieve", retrieveHandler(svc))
		api.Post("/links", createHandler(svc))
		api.Get("/visits/{id}", visitHandler(svc))
	})
	r.Get("/{alias}", clickHandler(svc))
	return r
}

func retrieveHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkapi.RetrieveLinkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}
		link, err := svc.Retrieve(req.URL, clientInfo(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, link)
	}
}

func createHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkapi.CreateLinkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		link, err := svc.Create(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		slog.Info("link created", "id", link.ID, "full_url", link.FullURL)
		writeJSON(w, http.StatusCreated, link)
	}
}

func visitHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Visit(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func clickHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		v, err := svc.RecordVisit(host, chi.URLParam(r, "alias"), clientInfo(r))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set(ReferrerHeader, "applinks_visit_id="+v.ID)
		http.Redirect(w, r, v.Link.OriginalURL, http.StatusFound)
	}
}

func requireKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token != apiKey {
				writeError(w, http.StatusUnauthorized, "invalid or missing api token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientInfo(r *http.Request) ClientInfo {
	return ClientInfo{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLinkNotFound), errors.Is(err, ErrVisitNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("linkservice: internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 输出 {"error":{"status","code","message"}}，status 形如 NOT_FOUND。
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, linkapi.ErrorResponse{Error: linkapi.ErrorDetails{
		Status:  strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_")),
		Code:    status,
		Message: msg,
	}})
}
