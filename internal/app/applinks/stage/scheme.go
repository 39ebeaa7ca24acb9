package stage

import (
	"context"
	"log/slog"
	"strings"

	"applinks.local/internal/app/applinks/deeplink"
)

// Scheme 处理自定义 scheme 链接（例如 myapp://catalog/42?x=1），完全本地解析。
type Scheme struct {
	schemes map[string]struct{}
	logger  *slog.Logger
}

// NewScheme 返回已经适配成 deeplink.Stage 的 scheme stage。
func NewScheme(schemes []string, logger *slog.Logger) deeplink.Stage {
	return deeplink.Transform(newScheme(schemes, logger))
}

func newScheme(schemes []string, logger *slog.Logger) *Scheme {
	set := make(map[string]struct{}, len(schemes))
	for _, s := range schemes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return &Scheme{schemes: set, logger: orDiscard(logger)}
}

func (s *Scheme) Name() string { return "scheme" }

func (s *Scheme) CanHandle(id deeplink.Identifier) bool {
	scheme := id.Scheme()
	if scheme == "" {
		return false
	}
	_, ok := s.schemes[scheme]
	return ok
}

// Apply 解析自定义 scheme：host 是路由的一部分，所以 myapp://host/sub 得到 "host/sub" 而不是 "/sub"。
func (s *Scheme) Apply(_ context.Context, rc *deeplink.Context, id deeplink.Identifier) (*deeplink.Context, error) {
	s.logger.Debug("processing custom scheme link", "uri", id.String())

	rc.SetPath(joinHostPath(id.Host(), id.Path()))
	rc.ResolvedParams.MergeParams(id.QueryParams())
	// 自定义 scheme 本身就是原生形式
	rc.SetRewritten(id)

	s.logger.Debug("custom scheme link processed", "path", *rc.ResolvedPath, "params", rc.ResolvedParams.Len())
	return rc, nil
}

func joinHostPath(host, path string) string {
	if host == "" {
		return path
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return host
	}
	return host + "/" + path
}
