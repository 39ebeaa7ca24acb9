package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/platform/httpmiddleware"
)

type ResolveRequest struct {
	URI string `json:"uri"`
}

// ResultResponse 是 deeplink.Result 的线上形式。params 保持插入顺序。
type ResultResponse struct {
	Handled   bool            `json:"handled"`
	Original  string          `json:"original"`
	Rewritten string          `json:"rewritten,omitempty"`
	Path      string          `json:"path"`
	Params    deeplink.Params `json:"params"`
	Metadata  map[string]any  `json:"metadata"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
}

func NewResultResponse(res deeplink.Result) ResultResponse {
	out := ResultResponse{
		Handled:  res.Handled,
		Original: res.Original.String(),
		Path:     res.Path,
		Params:   res.Params,
		Metadata: res.Metadata,
		Error:    res.Error,
	}
	if res.Rewritten != nil {
		out.Rewritten = res.Rewritten.String()
	}
	if res.Cause() != nil {
		out.ErrorKind = deeplink.KindOf(res.Cause())
	}
	return out
}

// NewResolveHandler POST /resolve {uri}：总是 200，失败体现在 handled=false。
func NewResolveHandler(sdk SDK) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uri, ok := bindURI(w, r)
		if !ok {
			return
		}
		out := NewResultResponse(sdk.Resolve(r.Context(), uri))
		if out.Original == "" {
			// 解析不了的输入没有 Identifier，原样回显
			out.Original = uri
		}
		httpmiddleware.WriteJSON(w, http.StatusOK, out)
	}
}

// NewCanResolveHandler POST /can-resolve {uri} -> {can_resolve}
func NewCanResolveHandler(sdk SDK) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uri, ok := bindURI(w, r)
		if !ok {
			return
		}
		httpmiddleware.WriteJSON(w, http.StatusOK, map[string]bool{"can_resolve": sdk.CanResolve(uri)})
	}
}

func bindURI(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ResolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid json body")
		return "", false
	}
	uri := strings.TrimSpace(req.URI)
	if uri == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "uri is required")
		return "", false
	}
	return uri, true
}
