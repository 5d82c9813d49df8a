package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

type originSet struct {
	allowAll bool
	origins  map[string]struct{}
}

func newOriginSet(allowed []string) originSet {
	set := originSet{allowAll: len(allowed) == 0, origins: make(map[string]struct{}, len(allowed))}
	for _, origin := range allowed {
		if origin == "*" {
			set.allowAll = true
		}
		set.origins[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	if s.allowAll {
		return true
	}
	_, ok := s.origins[origin]
	return ok
}

// CORS 根据白名单设置跨域响应头，"*" 表示放行所有来源。
func CORS(allowed []string) func(http.Handler) http.Handler {
	set := newOriginSet(allowed)
	origins := []string{"*"}
	if !set.allowAll {
		origins = make([]string, 0, len(set.origins))
		for origin := range set.origins {
			origins = append(origins, origin)
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", AdminTokenHeader},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	})
}

// OriginChecker 返回 websocket 握手使用的来源校验函数。没有 Origin 头的
// 请求（非浏览器客户端）总是放行。
func OriginChecker(allowed []string) func(r *http.Request) bool {
	set := newOriginSet(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set.allows(origin)
	}
}
