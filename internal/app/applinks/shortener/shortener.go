package shortener

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/linkapi"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Strategy 决定服务端生成的别名路径形态。
type Strategy string

const (
	// Unguessable 32 位随机路径，适合敏感链接
	Unguessable Strategy = "UNGUESSABLE"
	// Short 4~6 位，适合社交分享
	Short Strategy = "SHORT"
)

// Request 是创建短链的输入。TargetURL 和 Domain 必填，其余可选。
type Request struct {
	Domain         string            `json:"domain" validate:"required,hostname_rfc1123"`
	TargetURL      string            `json:"target_url" validate:"required,url"`
	Title          string            `json:"title" validate:"omitempty,max=200"`
	DeepLinkPath   string            `json:"deep_link_path" validate:"omitempty,max=2048"`
	DeepLinkParams map[string]string `json:"deep_link_params" validate:"omitempty,dive,keys,required,endkeys"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	Strategy       Strategy          `json:"strategy" validate:"omitempty,oneof=UNGUESSABLE SHORT"`
}

// Result 是创建成功后的映射结果。
type Result struct {
	ID        string     `json:"id"`
	FullURL   string     `json:"full_url"`
	AliasPath string     `json:"alias_path"`
	Domain    string     `json:"domain"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ValidationError 描述第一个不合法的字段，errors.Is(err, deeplink.ErrValidation) 为 true。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid link request: " + e.Message
	}
	return "invalid link request: " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return deeplink.ErrValidation }

// Creator 是 *linkapi.Client 的子集。
type Creator interface {
	CreateLink(ctx context.Context, req linkapi.CreateLinkRequest) (linkapi.Link, error)
}

type Shortener struct {
	client Creator
	now    func() time.Time
}

func New(client Creator) *Shortener {
	return &Shortener{client: client, now: time.Now}
}

// Create 校验、组装并发送一次创建请求。没有重试，也没有幂等键。
// 校验失败时不会发出任何网络请求。
func (s *Shortener) Create(ctx context.Context, req Request) (Result, error) {
	wire, err := s.Build(req)
	if err != nil {
		return Result{}, err
	}
	link, err := s.client.CreateLink(ctx, wire)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ID:        link.ID,
		FullURL:   link.FullURL,
		AliasPath: link.AliasPath,
		Domain:    link.Domain,
		ExpiresAt: link.ExpiresAt,
	}, nil
}

// Build 把 Request 转成线上格式并填默认值：
// - Title 为空时用 TargetURL
// - DeepLinkPath 为空时用 TargetURL 的 path（再为空则 "/"）
// - Strategy 为空时用 Unguessable
func (s *Shortener) Build(req Request) (linkapi.CreateLinkRequest, error) {
	req.Domain = strings.TrimSpace(req.Domain)
	req.TargetURL = strings.TrimSpace(req.TargetURL)
	if err := Validate(req); err != nil {
		return linkapi.CreateLinkRequest{}, err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return linkapi.CreateLinkRequest{}, &ValidationError{Field: "expires_at", Message: "expires_at must be in the future"}
	}

	title := req.Title
	if title == "" {
		title = req.TargetURL
	}
	path := req.DeepLinkPath
	if path == "" {
		path = "/"
		if u, err := url.Parse(req.TargetURL); err == nil && u.Path != "" {
			path = u.Path
		}
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = Unguessable
	}

	return linkapi.CreateLinkRequest{
		Domain: req.Domain,
		Link: linkapi.LinkData{
			Title:               title,
			OriginalURL:         req.TargetURL,
			DeepLinkPath:        path,
			DeepLinkParams:      req.DeepLinkParams,
			ExpiresAt:           req.ExpiresAt,
			AliasPathAttributes: &linkapi.AliasPathAttributes{Type: string(strategy)},
		},
	}, nil
}

var (
	vOnce  sync.Once
	vInst  *validator.Validate
	vTrans ut.Translator
)

func initValidator() {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		// 错误信息里用 json 字段名
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vInst = v
		vTrans = trans
	})
}

// Validate 只做字段校验，返回 *ValidationError。sidecar 的 handler 也复用它。
func Validate(req Request) error {
	initValidator()
	err := vInst.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: fe.Translate(vTrans)}
	}
	return &ValidationError{Message: fmt.Sprint(err)}
}
