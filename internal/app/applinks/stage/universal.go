package stage

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/linkapi"
)

// LinkRetriever 是 universal stage 需要的远端能力（linkapi.Client 或带缓存的装饰器）。
type LinkRetriever interface {
	RetrieveLink(ctx context.Context, linkURL string) (linkapi.Link, error)
}

// Universal 处理配置域名（及其子域名）下的 http/https 链接，调用解析服务补全信息。
//
// 设计原因：
// - 远端失败不让整个解析失败：降级为直接从原始 URL 取 path/query，用户至少能到达某个页面
// - 失败原因只写进 metadata["error"]，不作为致命错误上抛
type Universal struct {
	domains []string
	schemes []string
	client  LinkRetriever
	logger  *slog.Logger
}

// NewUniversal 的 schemes 是有序的：第一个 scheme 用来合成原生形式的 Rewritten。
func NewUniversal(domains, schemes []string, client LinkRetriever, logger *slog.Logger) deeplink.Stage {
	return deeplink.Transform(newUniversal(domains, schemes, client, logger))
}

func newUniversal(domains, schemes []string, client LinkRetriever, logger *slog.Logger) *Universal {
	u := &Universal{client: client, logger: orDiscard(logger)}
	for _, d := range domains {
		d = strings.ToLower(strings.Trim(strings.TrimSpace(d), "."))
		if d != "" {
			u.domains = append(u.domains, d)
		}
	}
	for _, s := range schemes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			u.schemes = append(u.schemes, s)
		}
	}
	return u
}

func (u *Universal) Name() string { return "universal" }

func (u *Universal) CanHandle(id deeplink.Identifier) bool {
	if !id.IsWeb() {
		return false
	}
	host := strings.ToLower(id.Host())
	if host == "" {
		return false
	}
	for _, d := range u.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (u *Universal) Apply(ctx context.Context, rc *deeplink.Context, id deeplink.Identifier) (*deeplink.Context, error) {
	u.logger.Debug("processing universal link", "uri", id.String())

	link, err := u.client.RetrieveLink(ctx, id.String())
	if err != nil {
		u.logger.Warn("failed to retrieve link details, using fallback", "uri", id.String(), "err", err, "kind", deeplink.KindOf(err))
		u.fallback(rc, id, err)
		return rc, nil
	}

	rc.SetPath(link.DeepLinkPath)
	// 服务端参数覆盖之前同名的值；map 无序，按 key 排序写入保证结果稳定
	keys := make([]string, 0, len(link.DeepLinkParams))
	for k := range link.DeepLinkParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rc.ResolvedParams.Merge(link.DeepLinkParams, keys)

	rc.SetMeta("link_type", "universal")
	rc.SetMeta("link_id", link.ID)
	rc.SetMeta("link_title", link.Title)
	rc.SetMeta("original_url", link.OriginalURL)
	rc.SetMeta("domain", link.Domain)
	rc.SetMeta("full_url", link.FullURL)
	rc.SetMeta("created_at", link.CreatedAt.UTC().Format(time.RFC3339))
	rc.SetMeta("updated_at", link.UpdatedAt.UTC().Format(time.RFC3339))
	if link.VisitID != "" {
		rc.SetMeta("visit_id", link.VisitID)
	}
	if link.ExpiresAt != nil {
		rc.SetMeta("expires_at", link.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if rw, ok := u.nativeForm(link.DeepLinkPath, rc.ResolvedParams); ok {
		rc.SetRewritten(rw)
	}

	u.logger.Debug("universal link processed", "path", link.DeepLinkPath, "params", rc.ResolvedParams.Len())
	return rc, nil
}

func (u *Universal) fallback(rc *deeplink.Context, id deeplink.Identifier, cause error) {
	rc.SetPath(id.Path())
	rc.ResolvedParams.MergeParams(id.QueryParams())
	rc.SetMeta("link_type", "universal_fallback")
	rc.SetMeta("host", id.Host())
	rc.SetMeta("error", cause.Error())
}

// nativeForm 用第一个配置的 scheme 合成原生链接：
// 第一个 path 段做 host，剩余部分做 path，累计的参数做 query。
func (u *Universal) nativeForm(path string, params deeplink.Params) (deeplink.Identifier, bool) {
	if len(u.schemes) == 0 {
		return deeplink.Identifier{}, false
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return deeplink.Identifier{}, false
	}
	host, rest, _ := strings.Cut(path, "/")
	nu := &url.URL{Scheme: u.schemes[0], Host: host}
	if rest != "" {
		nu.Path = "/" + rest
	}
	if params.Len() > 0 {
		var b strings.Builder
		for i, k := range params.Keys() {
			if i > 0 {
				b.WriteByte('&')
			}
			v, _ := params.Get(k)
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
		nu.RawQuery = b.String()
	}
	return deeplink.FromURL(nu), true
}
