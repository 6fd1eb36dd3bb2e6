package adminapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo-contrib/echoprometheus"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultTokenTTL is the lifetime of tokens issued by IssueToken
const DefaultTokenTTL = 24 * time.Hour

// HTTPOptions configure the HTTP transport
type HTTPOptions struct {
	JwtSecret string
	// Registry receives the HTTP metrics and is exported on /metrics
	Registry *prometheus.Registry
}

// jsonSerializer makes echo encode with jsoniter
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}

// NewHTTPHandler exposes the dispatcher as POST /api/v1/control behind a
// bearer token, plus the prometheus registry on /metrics
func NewHTTPHandler(d *Dispatcher, opts HTTPOptions) (*echo.Echo, error) {
	if opts.JwtSecret == "" {
		return nil, errors.New("admin jwt secret required")
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())

	if opts.Registry != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Namespace:  "radbill",
			Subsystem:  "admin",
			Registerer: opts.Registry,
		}))
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
			Gatherer: opts.Registry,
		}))
	}

	api := e.Group("/api/v1")
	api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(opts.JwtSecret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(jwt.RegisteredClaims)
		},
	}))
	api.POST("/control", func(c echo.Context) error {
		var req Request
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, &Response{Code: CodeError, Msg: "invalid message"})
		}
		opr := Operator{Name: operatorName(c), IP: c.RealIP()}
		return c.JSON(http.StatusOK, d.Dispatch(c.Request().Context(), opr, req))
	})
	api.GET("/processes", func(c echo.Context) error {
		return c.JSON(http.StatusOK, &Response{Code: CodeOK, Data: d.Processes()})
	})
	return e, nil
}

func operatorName(c echo.Context) string {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return ""
	}
	if claims, ok := token.Claims.(*jwt.RegisteredClaims); ok {
		return claims.Subject
	}
	return ""
}

// IssueToken signs a bearer token for an operator
func IssueToken(secret, operator string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin jwt secret required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   operator,
		Issuer:    "radbill",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString([]byte(secret))
}

// HTTPServer runs the echo handler on an address
type HTTPServer struct {
	Addr    string
	Handler *echo.Echo
}

func (s *HTTPServer) ListenAndServe() error {
	s.Handler.Server.Addr = s.Addr
	zap.L().Info("admin http listening", zap.String("namespace", "admin"), zap.String("addr", s.Addr))
	err := s.Handler.Server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener
func (s *HTTPServer) Serve(ln net.Listener) error {
	err := s.Handler.Server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Handler.Shutdown(ctx)
}
