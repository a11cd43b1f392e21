package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/hunyuan3d/api/handlers"
	"github.com/BaSui01/hunyuan3d/internal/metrics"
	"github.com/BaSui01/hunyuan3d/internal/telemetry"
	"github.com/BaSui01/hunyuan3d/types"
)

// =============================================================================
// 🧅 中间件
// =============================================================================

// Middleware 包装一个 http.Handler
type Middleware func(http.Handler) http.Handler

// Chain 依次包装 h，第一个中间件位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	subjectKey
)

func ctxString(ctx context.Context, key ctxKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// RequestIDFromContext 由 RequestID 中间件写入
func RequestIDFromContext(ctx context.Context) string { return ctxString(ctx, requestIDKey) }

// SubjectFromContext JWT 的 sub 声明，由 JWTAuth 写入
func SubjectFromContext(ctx context.Context) string { return ctxString(ctx, subjectKey) }

// reject 以统一响应信封返回中间件错误
func reject(w http.ResponseWriter, code types.ErrorCode, message string) {
	handlers.WriteErrorMessage(w, code, message, nil)
}

// =============================================================================
// 🛟 恢复、请求 ID 与安全头
// =============================================================================

// Recovery 把处理器 panic 转成 500；http.ErrAbortHandler 原样抛出
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panicked",
					zap.Any("panic", v),
					zap.String("method", r.Method),
					zap.String("route", normalizePath(r.URL.Path)),
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Stack("stack"))
				reject(w, types.ErrInternalError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// maxRequestIDLen 超长的客户端请求 ID 会被替换
const maxRequestIDLen = 128

// RequestID 沿用客户端的 X-Request-ID，缺失或超长时生成新的
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(handlers.RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLen {
				id = "req-" + uuid.NewString()
			}
			w.Header().Set(handlers.RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		})
	}
}

var securityHeaders = [...][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Content-Security-Policy", "default-src 'self'"},
}

// SecurityHeaders 为所有响应加上固定的安全头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 📊 观测：日志、指标、追踪
// =============================================================================

// healthPaths 探针请求量大，只在 Debug 级别记录
var healthPaths = map[string]struct{}{
	"/health": {}, "/healthz": {}, "/ready": {}, "/readyz": {},
}

func logLevelFor(path string, status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	}
	if _, ok := healthPaths[path]; ok {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// RequestLogger 每个请求记录一行访问日志，级别随状态码变化
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			ce := logger.Check(logLevelFor(r.URL.Path, rw.StatusCode), "http request")
			if ce == nil {
				return
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", RequestIDFromContext(r.Context())),
			}
			if sub := SubjectFromContext(r.Context()); sub != "" {
				fields = append(fields, zap.String("subject", sub))
			}
			ce.Write(fields...)
		})
	}
}

// MetricsMiddleware 按路由模板记录请求数与耗时
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), rw.StatusCode, time.Since(start))
		})
	}
}

// OTelTracing 为每个请求开启一个 server span，并接续上游的 trace context
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			route := normalizePath(r.URL.Path)
			ctx, span := otel.Tracer(telemetry.InstrumentationName+"/http").Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				))
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

// =============================================================================
// 🗺️ 路由模板
// =============================================================================

// 任务 ID 是生成服务返回的任意 uid，无法按格式识别，只能按位置匹配。
// "*" 匹配任意单段。
var routeTemplates = [][]string{
	{"api", "v1", "tasks"},
	{"api", "v1", "tasks", "*"},
	{"api", "v1", "tasks", "*", "events"},
	{"api", "v1", "tasks", "*", "cleanup"},
	{"api", "v1", "history"},
	{"api", "v1", "history", "*"},
	{"api", "v1", "remote", "health"},
	{"health"}, {"healthz"}, {"ready"}, {"readyz"}, {"version"},
}

// unmatchedRoute 未知路径归到同一个标签，扫描类请求不会撑大时间序列
const unmatchedRoute = "other"

// normalizePath 把请求路径映射到路由模板，ID 段替换为 ":id"
//
//	/api/v1/tasks/uid-1/events -> /api/v1/tasks/:id/events
func normalizePath(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for _, tmpl := range routeTemplates {
		if matchTemplate(tmpl, segs) {
			return renderTemplate(tmpl)
		}
	}
	return unmatchedRoute
}

func matchTemplate(tmpl, segs []string) bool {
	if len(tmpl) != len(segs) {
		return false
	}
	for i, t := range tmpl {
		if segs[i] == "" || (t != "*" && t != segs[i]) {
			return false
		}
	}
	return true
}

func renderTemplate(tmpl []string) string {
	var b strings.Builder
	for _, t := range tmpl {
		b.WriteByte('/')
		if t == "*" {
			t = ":id"
		}
		b.WriteString(t)
	}
	return b.String()
}

// =============================================================================
// 🔐 认证
// =============================================================================

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// authCheck 通过时返回（可能携带新 context 的）请求；失败时已写好响应
type authCheck func(w http.ResponseWriter, r *http.Request) (*http.Request, bool)

// guard 对 skipPaths 以外的请求执行 check
func guard(skipPaths []string, check authCheck) Middleware {
	skip := stringSet(skipPaths)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; !ok {
				var pass bool
				if r, pass = check(w, r); !pass {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyAuth 校验 X-API-Key；allowQueryAPIKey 为 true 时也接受 ?api_key=，
// 浏览器的 websocket 客户端无法自定义请求头
func APIKeyAuth(validKeys []string, skipPaths []string, allowQueryAPIKey bool, logger *zap.Logger) Middleware {
	keys := stringSet(validKeys)
	return guard(skipPaths, func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
		key := r.Header.Get("X-API-Key")
		if key == "" && allowQueryAPIKey {
			key = r.URL.Query().Get("api_key")
		}
		if _, ok := keys[key]; ok && key != "" {
			return r, true
		}
		logger.Debug("api key rejected",
			zap.String("path", r.URL.Path),
			zap.Bool("present", key != ""))
		reject(w, types.ErrUnauthorized, "invalid or missing API key")
		return r, false
	})
}

// JWTAuth 校验 HS256 Bearer token，必须带 exp；issuer 非空时 iss 必须一致。
// sub 声明可通过 SubjectFromContext 读取。
func JWTAuth(secret, issuer string, skipPaths []string, logger *zap.Logger) Middleware {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	hmacKey := []byte(secret)
	keyFunc := func(*jwt.Token) (any, error) {
		if len(hmacKey) == 0 {
			return nil, errors.New("jwt secret is empty")
		}
		return hmacKey, nil
	}

	return guard(skipPaths, func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
		raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || raw == "" {
			reject(w, types.ErrUnauthorized, "missing or malformed Authorization header")
			return r, false
		}

		var claims jwt.RegisteredClaims
		if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
			logger.Debug("jwt rejected", zap.String("path", r.URL.Path), zap.Error(err))
			reject(w, types.ErrUnauthorized, "invalid or expired token")
			return r, false
		}
		if claims.Subject == "" {
			return r, true
		}
		return r.WithContext(context.WithValue(r.Context(), subjectKey, claims.Subject)), true
	})
}

// =============================================================================
// 🚦 限流
// =============================================================================

const (
	visitorSweepInterval = time.Minute
	visitorIdleTTL       = 3 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters 每个客户端 IP 一个令牌桶，闲置超过 visitorIdleTTL 的会被清理
type ipLimiters struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newIPLimiters(rps float64, burst int) *ipLimiters {
	return &ipLimiters{
		limit:    rate.Limit(rps),
		burst:    max(burst, 1),
		visitors: make(map[string]*visitor),
	}
}

func (l *ipLimiters) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func (l *ipLimiters) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTTL {
			delete(l.visitors, ip)
			removed++
		}
	}
	return removed
}

func (l *ipLimiters) sweepLoop(ctx context.Context, logger *zap.Logger) {
	ticker := time.NewTicker(visitorSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := l.sweep(now); n > 0 {
				logger.Debug("idle rate limiters evicted", zap.Int("count", n))
			}
		}
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimiter 按客户端 IP 限流；rps <= 0 时直接放行。清理协程随 ctx 退出。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := newIPLimiters(rps, burst)
	go limiters.sweepLoop(ctx, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiters.allow(ip, time.Now()) {
				logger.Debug("rate limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
				reject(w, types.ErrRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 🌍 CORS
// =============================================================================

const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, X-API-Key, Authorization"
	corsMaxAge       = "86400"
)

// CORS 只对白名单内的 Origin 回写 CORS 头；allowedOrigins 为空时不做任何处理。
// 预检请求直接应答：白名单内 204，其余 403。
func CORS(allowedOrigins []string) Middleware {
	allowed := stringSet(allowedOrigins)
	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, ok := allowed[origin]
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
				h.Add("Vary", "Origin")
			}
			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if ok {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusForbidden)
			}
		})
	}
}
