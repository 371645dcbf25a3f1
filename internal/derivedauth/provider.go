package derivedauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloutfeed/go-backend/internal/platform/metrics"
	"cloutfeed/go-backend/internal/platform/ratelimiter"
	"cloutfeed/go-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	DefaultProviderURL  = "https://identity.deso.org/derive"
	DefaultCallbackAddr = "127.0.0.1:0"
	callbackPath        = "/callback"
	shutdownTimeout     = 2 * time.Second
)

// Provider obtains a derived key grant from the owner. Authorize blocks until
// the owner approves, cancels, or ctx ends.
type Provider interface {
	Authorize(ctx context.Context) (models.DerivedAuthentication, error)
}

type LoopbackConfig struct {
	ProviderURL  string
	CallbackAddr string
	// Open presents the authorization URL to the user, typically by printing
	// it or launching a browser.
	Open    func(authURL string) error
	Limiter *ratelimiter.MapLimiter
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// LoopbackProvider receives the identity provider's redirect on a local HTTP
// listener. Each attempt gets a fresh random state embedded in the callback
// URL; callbacks carrying any other state are rejected.
type LoopbackProvider struct {
	cfg LoopbackConfig
}

func NewLoopbackProvider(cfg LoopbackConfig) *LoopbackProvider {
	if strings.TrimSpace(cfg.ProviderURL) == "" {
		cfg.ProviderURL = DefaultProviderURL
	}
	if strings.TrimSpace(cfg.CallbackAddr) == "" {
		cfg.CallbackAddr = DefaultCallbackAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LoopbackProvider{cfg: cfg}
}

type redirectResult struct {
	auth models.DerivedAuthentication
	err  error
}

func (p *LoopbackProvider) Authorize(ctx context.Context) (models.DerivedAuthentication, error) {
	ln, err := net.Listen("tcp", p.cfg.CallbackAddr)
	if err != nil {
		return models.DerivedAuthentication{}, fmt.Errorf("listen for provider callback: %w", err)
	}

	state := uuid.NewString()
	results := make(chan redirectResult, 1)
	var once sync.Once
	deliver := func(r redirectResult) {
		once.Do(func() { results <- r })
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = ln
	e.GET(callbackPath, func(c echo.Context) error {
		if !p.cfg.Limiter.Allow(c.RealIP(), time.Now()) {
			p.cfg.Metrics.ObserveCallbackLimited()
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
		}
		if c.QueryParam("state") != state {
			p.cfg.Logger.Warn("provider callback with unknown state", "remote", c.RealIP())
			return echo.NewHTTPError(http.StatusForbidden, "unknown authorization attempt")
		}
		if c.QueryParam("cancel") != "" || c.QueryParam("error") != "" {
			deliver(redirectResult{err: ErrProviderCancelled})
			return c.String(http.StatusOK, "Authorization cancelled. You can close this window.")
		}
		auth, err := parseRedirect(c.QueryParams())
		if err != nil {
			deliver(redirectResult{err: err})
			return echo.NewHTTPError(http.StatusBadRequest, "malformed authorization response")
		}
		deliver(redirectResult{auth: auth})
		return c.String(http.StatusOK, "Authorization received. You can close this window.")
	})

	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(redirectResult{err: fmt.Errorf("provider callback server: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	callback := url.URL{
		Scheme:   "http",
		Host:     ln.Addr().String(),
		Path:     callbackPath,
		RawQuery: url.Values{"state": {state}}.Encode(),
	}
	authURL, err := buildAuthURL(p.cfg.ProviderURL, callback.String())
	if err != nil {
		return models.DerivedAuthentication{}, err
	}
	if p.cfg.Open != nil {
		if err := p.cfg.Open(authURL); err != nil {
			return models.DerivedAuthentication{}, fmt.Errorf("open provider url: %w", err)
		}
	}
	p.cfg.Logger.Info("awaiting identity provider redirect", "callback", callback.Host)

	select {
	case r := <-results:
		return r.auth, r.err
	case <-ctx.Done():
		return models.DerivedAuthentication{}, fmt.Errorf("%w: %v", ErrProviderCancelled, ctx.Err())
	}
}

func buildAuthURL(providerURL, callback string) (string, error) {
	u, err := url.Parse(providerURL)
	if err != nil {
		return "", fmt.Errorf("parse provider url: %w", err)
	}
	q := u.Query()
	q.Set("webview", "true")
	q.Set("callback", callback)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseRedirect(q url.Values) (models.DerivedAuthentication, error) {
	auth := models.DerivedAuthentication{
		PublicKey:                   strings.TrimSpace(q.Get("publicKey")),
		DerivedPublicKey:            strings.TrimSpace(q.Get("derivedPublicKey")),
		AccessSignature:             strings.TrimSpace(q.Get("accessSignature")),
		DerivedSeedHex:              strings.TrimSpace(q.Get("derivedSeedHex")),
		JWT:                         q.Get("jwt"),
		DerivedJWT:                  q.Get("derivedJwt"),
		TransactionSpendingLimitHex: strings.TrimSpace(q.Get("transactionSpendingLimitHex")),
	}
	if auth.PublicKey == "" || auth.DerivedPublicKey == "" || auth.AccessSignature == "" || auth.DerivedSeedHex == "" {
		return models.DerivedAuthentication{}, fmt.Errorf("%w: missing required parameter", ErrMalformedRedirect)
	}
	block, err := strconv.ParseUint(strings.TrimSpace(q.Get("expirationBlock")), 10, 64)
	if err != nil {
		return models.DerivedAuthentication{}, fmt.Errorf("%w: expirationBlock: %v", ErrMalformedRedirect, err)
	}
	auth.ExpirationBlock = block
	return auth, nil
}
