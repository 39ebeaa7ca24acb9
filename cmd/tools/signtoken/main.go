package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"applinks.local/internal/platform/auth"
	"applinks.local/internal/platform/config"
)

// 用 linkd 的 JWT 配置签发一个 token，方便本地调用 POST /api/v1/links。
func main() {
	cfg := config.Load()

	subject := flag.String("sub", "", "token subject")
	scopes := flag.String("scopes", auth.ScopeLinksCreate, "comma separated scopes")
	ttl := flag.Duration("ttl", cfg.JWTTTL, "token ttl")
	flag.Parse()

	if *subject == "" {
		log.Fatal("usage: go run ./cmd/tools/signtoken -sub <subject> [-scopes links:create] [-ttl 1h]")
	}
	if *ttl <= 0 {
		*ttl = time.Hour
	}

	ts, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, *ttl, auth.WithAudience(cfg.JWTAudience))
	if err != nil {
		log.Fatal(err)
	}

	var list []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	token, err := ts.Sign(*subject, list...)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
