package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

type errorBody struct {
	Error errorDetails `json:"error"`
}

type errorDetails struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError 输出 {"error":{"status":"NOT_FOUND","code":404,"message":"..."}}，与解析服务的错误格式一致。
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Error: errorDetails{
		Status:  strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_")),
		Code:    status,
		Message: msg,
	}})
}
