package proxy

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davicafu/usersync/internal/gateway/breaker"
	"github.com/davicafu/usersync/internal/gateway/limiter"
)

const (
	UsersFallback         = "User service is temporarily unavailable. Please try again later."
	NotificationsFallback = "Notification service is temporarily unavailable. Please try again later."
)

// Route asocia un prefijo de path a un backend con su propia política.
type Route struct {
	Name     string         `yaml:"name"`
	Prefix   string         `yaml:"prefix"`
	Backend  string         `yaml:"backend"`
	Fallback string         `yaml:"fallback"`
	Timeout  time.Duration  `yaml:"timeout"`
	Breaker  breaker.Config `yaml:"breaker"`
	Limiter  limiter.Config `yaml:"limiter"`
}

type routesFile struct {
	Routes []Route `yaml:"routes"`
}

// DefaultRoutes: /users -> user service, /notifications -> notification service.
func DefaultRoutes(userURL, notificationURL string) []Route {
	return []Route{
		{
			Name:     "users",
			Prefix:   "/users",
			Backend:  userURL,
			Fallback: UsersFallback,
			Timeout:  5 * time.Second,
			Breaker:  breaker.DefaultConfig(),
			Limiter:  limiter.DefaultConfig(),
		},
		{
			Name:     "notifications",
			Prefix:   "/notifications",
			Backend:  notificationURL,
			Fallback: NotificationsFallback,
			Timeout:  5 * time.Second,
			Breaker:  breaker.DefaultConfig(),
			Limiter:  limiter.DefaultConfig(),
		},
	}
}

// LoadRoutes lee la tabla de rutas de un YAML. Los campos vacíos toman los
// valores por defecto del breaker y del limiter.
func LoadRoutes(path string) ([]Route, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutes(raw)
}

func ParseRoutes(raw []byte) ([]Route, error) {
	var f routesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	if len(f.Routes) == 0 {
		return nil, fmt.Errorf("parse routes: no routes defined")
	}
	seen := map[string]bool{}
	for i := range f.Routes {
		r := &f.Routes[i]
		if err := r.validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("route %q: duplicated name", r.Name)
		}
		seen[r.Name] = true
	}
	return f.Routes, nil
}

func (r *Route) validate() error {
	if r.Name == "" {
		return fmt.Errorf("route without name")
	}
	if !strings.HasPrefix(r.Prefix, "/") {
		return fmt.Errorf("route %q: prefix must start with /", r.Name)
	}
	u, err := url.Parse(r.Backend)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("route %q: invalid backend %q", r.Name, r.Backend)
	}
	if r.Fallback == "" {
		r.Fallback = fmt.Sprintf("Service %s is temporarily unavailable. Please try again later.", r.Name)
	}
	if r.Timeout <= 0 {
		r.Timeout = 5 * time.Second
	}
	return nil
}

// matches: /users casa con /users y /users/1, pero no con /usersx.
func (r Route) matches(path string) bool {
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	return len(path) == len(r.Prefix) || strings.HasSuffix(r.Prefix, "/") || path[len(r.Prefix)] == '/'
}

// sortByPrefix deja primero los prefijos más largos.
func sortByPrefix(routes []*route) {
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})
}
