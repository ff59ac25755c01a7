package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davicafu/usersync/internal/gateway/breaker"
	"github.com/davicafu/usersync/internal/gateway/limiter"
	sharedHttp "github.com/davicafu/usersync/internal/shared/infra/http"
	"github.com/davicafu/usersync/pkg/utils"
)

// ErrUnavailable: la ruta rechazó la petición (rate limit o breaker abierto).
var (
	ErrUnavailable = errors.New("service unavailable")
	ErrRateLimited = fmt.Errorf("%w: rate limit exceeded", ErrUnavailable)
	ErrCircuitOpen = fmt.Errorf("%w: %v", ErrUnavailable, breaker.ErrOpen)
)

var (
	errUpstreamStatus  = errors.New("upstream server error")
	errUpstreamAborted = errors.New("upstream response aborted")
)

// LimiterFactory crea el limiter de una ruta.
type LimiterFactory func(route Route) limiter.Limiter

func MemoryLimiters(route Route) limiter.Limiter {
	return limiter.NewMemoryLimiter(route.Limiter)
}

type route struct {
	Route
	breaker *breaker.Breaker
	limiter limiter.Limiter
	proxy   *httputil.ReverseProxy
}

// outcome lo rellena el ErrorHandler del proxy durante la llamada.
type outcome struct {
	err error
}

type outcomeKey struct{}

// Gateway aplica, por ruta: rate limit -> circuit breaker -> proxy.
// Cada ruta es dueña de su breaker y su limiter.
type Gateway struct {
	routes         []*route
	byName         map[string]*route
	trustedProxies []string
	metrics        *metrics
	log            *zap.Logger
}

type Option func(*options)

type options struct {
	limiters       LimiterFactory
	registry       prometheus.Registerer
	breakerFn      []breaker.Option
	transport      http.RoundTripper
	trustedProxies []string
}

func WithLimiterFactory(f LimiterFactory) Option {
	return func(o *options) { o.limiters = f }
}

func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithBreakerOptions se aplica a todos los breakers (reloj en tests).
func WithBreakerOptions(opts ...breaker.Option) Option {
	return func(o *options) { o.breakerFn = append(o.breakerFn, opts...) }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithTrustedProxies: solo se lee X-Forwarded-For cuando la conexión viene
// de una de estas IPs o CIDRs. Sin proxies la key del limiter es RemoteAddr.
func WithTrustedProxies(proxies []string) Option {
	return func(o *options) { o.trustedProxies = proxies }
}

func validateProxies(proxies []string) error {
	for _, p := range proxies {
		if _, _, err := net.ParseCIDR(p); err == nil {
			continue
		}
		if net.ParseIP(p) == nil {
			return fmt.Errorf("invalid trusted proxy %q", p)
		}
	}
	return nil
}

func New(routes []Route, log *zap.Logger, opts ...Option) (*Gateway, error) {
	o := &options{limiters: MemoryLimiters}
	for _, opt := range opts {
		opt(o)
	}

	if err := validateProxies(o.trustedProxies); err != nil {
		return nil, err
	}
	m, err := newMetrics(o.registry)
	if err != nil {
		return nil, fmt.Errorf("register gateway metrics: %w", err)
	}

	g := &Gateway{byName: map[string]*route{}, trustedProxies: o.trustedProxies, metrics: m, log: log}
	for _, r := range routes {
		r := r
		if err := r.validate(); err != nil {
			return nil, err
		}
		target, _ := url.Parse(r.Backend)

		bopts := append([]breaker.Option{
			breaker.WithObserver(breaker.LogObserver(log)),
			breaker.WithObserver(m.observer(r.Name)),
		}, o.breakerFn...)

		rt := &route{
			Route:   r,
			breaker: breaker.New(r.Name, r.Breaker, bopts...),
			limiter: o.limiters(r),
		}
		rt.proxy = g.newReverseProxy(rt, target, o.transport)

		g.routes = append(g.routes, rt)
		g.byName[r.Name] = rt
		log.Info("🔀 Ruta registrada",
			zap.String("route", r.Name),
			zap.String("prefix", r.Prefix),
			zap.String("backend", r.Backend),
		)
	}
	sortByPrefix(g.routes)
	return g, nil
}

func (g *Gateway) newReverseProxy(rt *route, target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	if transport != nil {
		p.Transport = transport
	}
	// Un 5xx del backend cuenta como fallo y se responde con el fallback.
	p.ModifyResponse = func(resp *http.Response) error {
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %d", errUpstreamStatus, resp.StatusCode)
		}
		return nil
	}
	p.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		if o, ok := req.Context().Value(outcomeKey{}).(*outcome); ok {
			o.err = err
		}
		g.writeFallback(w, rt, http.StatusServiceUnavailable)
	}
	return p
}

// Breaker expone el breaker de una ruta (diagnóstico y tests).
func (g *Gateway) Breaker(name string) (*breaker.Breaker, bool) {
	rt, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return rt.breaker, true
}

func (g *Gateway) match(path string) *route {
	for _, rt := range g.routes {
		if rt.matches(path) {
			return rt
		}
	}
	return nil
}

// Handler monta /health, /metrics, /fallback/:route, /admin/breakers y el proxy.
func (g *Gateway) Handler(gatherer prometheus.Gatherer) *gin.Engine {
	r := sharedHttp.NewEngine(g.log)
	if err := r.SetTrustedProxies(g.trustedProxies); err != nil {
		g.log.Warn("⚠️ Proxies de confianza ignorados", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/fallback/:route", g.fallback)

	admin := r.Group("/admin/breakers")
	{
		admin.GET("", g.breakers)
		admin.POST("/:route/reset", g.resetBreaker)
	}

	r.NoRoute(g.serve)
	return r
}

type breakerStatus struct {
	Route       string    `json:"route"`
	State       string    `json:"state"`
	Calls       int       `json:"calls"`
	Failures    int       `json:"failures"`
	FailureRate float64   `json:"failure_rate"`
	ChangedAt   time.Time `json:"changed_at"`
}

// breakers endpoint GET /admin/breakers
func (g *Gateway) breakers(c *gin.Context) {
	out := make([]breakerStatus, 0, len(g.routes))
	for _, rt := range g.routes {
		rt.breaker.State() // aplica OPEN -> HALF_OPEN si ya toca
		s := rt.breaker.Snapshot()
		out = append(out, breakerStatus{
			Route:       rt.Name,
			State:       s.State.String(),
			Calls:       s.Calls,
			Failures:    s.Failures,
			FailureRate: s.FailureRate,
			ChangedAt:   s.ChangedAt,
		})
	}
	utils.SendSuccess(c, http.StatusOK, out)
}

// resetBreaker endpoint POST /admin/breakers/:route/reset
func (g *Gateway) resetBreaker(c *gin.Context) {
	rt, ok := g.byName[c.Param("route")]
	if !ok {
		utils.SendNotFound(c, "unknown route")
		return
	}
	rt.breaker.Reset()
	g.log.Info("🔄 Breaker reiniciado manualmente", zap.String("route", rt.Name))
	utils.SendSuccess(c, http.StatusOK, gin.H{"route": rt.Name, "state": rt.breaker.State().String()})
}

// fallback endpoint GET /fallback/:route
func (g *Gateway) fallback(c *gin.Context) {
	rt, ok := g.byName[c.Param("route")]
	if !ok {
		utils.SendNotFound(c, "unknown route")
		return
	}
	c.String(http.StatusOK, rt.Fallback)
}

func (g *Gateway) serve(c *gin.Context) {
	rt := g.match(c.Request.URL.Path)
	if rt == nil {
		utils.SendNotFound(c, "no route for path")
		return
	}

	// 1 y 2. Rate limiter y breaker
	done, err := g.admit(c, rt)
	if err != nil {
		reason := "breaker_open"
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrRateLimited) {
			reason, status = "rate_limited", http.StatusTooManyRequests
		}
		g.metrics.requests.WithLabelValues(rt.Name, reason).Inc()
		g.log.Debug("Petición rechazada", zap.String("route", rt.Name), zap.Error(err))
		g.writeFallback(c.Writer, rt, status)
		c.Abort()
		return
	}

	// Si el backend corta el cuerpo a medias ReverseProxy hace
	// panic(http.ErrAbortHandler): la llamada admitida se registra antes de
	// relanzarlo, o una llamada de HALF_OPEN quedaría sin resolver.
	defer func() {
		if rec := recover(); rec != nil {
			g.finish(c, rt, done, fmt.Errorf("%w: %v", errUpstreamAborted, rec))
			panic(rec)
		}
	}()

	// 3. Forward con timeout
	out := &outcome{}
	ctx, cancel := context.WithTimeout(c.Request.Context(), rt.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, outcomeKey{}, out)

	start := time.Now()
	rt.proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	g.metrics.latency.WithLabelValues(rt.Name).Observe(time.Since(start).Seconds())

	g.finish(c, rt, done, out.err)
}

// finish entrega el resultado al breaker. Si el cliente canceló la petición
// el resultado no dice nada del backend y no se cuenta; el timeout propio de
// la ruta sí es un fallo.
func (g *Gateway) finish(c *gin.Context, rt *route, done func(error), err error) {
	switch {
	case err == nil:
		done(nil)
		g.metrics.requests.WithLabelValues(rt.Name, "forwarded").Inc()
	case errors.Is(c.Request.Context().Err(), context.Canceled):
		done(breaker.ErrIgnored)
		g.metrics.requests.WithLabelValues(rt.Name, "client_canceled").Inc()
		g.log.Debug("Cliente canceló la petición", zap.String("route", rt.Name), zap.Error(err))
	default:
		done(err)
		g.metrics.requests.WithLabelValues(rt.Name, "backend_failed").Inc()
	}
}

// clientKey es la IP del cliente según gin: RemoteAddr, o X-Forwarded-For
// solo si la conexión viene de un proxy de confianza.
func clientKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return c.Request.RemoteAddr
}

// admit aplica el limiter (por IP) y después el breaker. Lo rechazado por el
// limiter nunca llega al breaker.
func (g *Gateway) admit(c *gin.Context, rt *route) (func(error), error) {
	res, err := rt.limiter.Allow(c.Request.Context(), clientKey(c))
	switch {
	case err != nil:
		// En caso de error del limiter, permitimos el request
		g.log.Warn("⚠️ Error en rate limiter", zap.String("route", rt.Name), zap.Error(err))
	case !res.Allowed:
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		return nil, ErrRateLimited
	default:
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	}

	done, err := rt.breaker.Allow()
	if err != nil {
		return nil, ErrCircuitOpen
	}
	return done, nil
}

func (g *Gateway) writeFallback(w http.ResponseWriter, rt *route, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(utils.ErrorBody(rt.Fallback, utils.CodeUnavailable))
}
