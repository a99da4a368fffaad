package recapsamurai

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	apiHealthCheck         = "/health"
	apiPathPatreonCallback = "/oauth/patreon/callback"

	xRequestIDHeader = "X-Request-ID"

	// premiumPledgeThresholdCents is the minimum currently entitled pledge
	// for a patron to map to the premium tier; anything lower maps to basic.
	premiumPledgeThresholdCents = 500
)

type contextKey string

const loggerContextKey contextKey = "logger"

var structValidator = validator.New()

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

// API is the backend HTTP server: a health endpoint and the Patreon
// OAuth callback that links a pledge to a guild subscription tier.
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	subscriptions    *SubscriptionStore
	httpClient       *http.Client
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
	logger           *slog.Logger
}

// newAPI initializes the API server: gin engine, middleware, routes and
// the underlying http.Server. The Patreon callback route is only
// registered when a client ID is configured.
func newAPI(config *APIConfig, subscriptions *SubscriptionStore, httpClient *http.Client) (
	*API,
	error,
) {
	if config == nil {
		return nil, fmt.Errorf("nil API config")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	r := gin.New()
	api := &API{
		config:         config,
		engine:         r,
		subscriptions:  subscriptions,
		httpClient:     httpClient,
		requestMetrics: map[string]int{},
		logger:         newComponentLogger("api", config.LogLevel),
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	if config.Patreon.ClientID != "" {
		r.GET(apiPathPatreonCallback, api.patreonCallback)
	}

	return api, nil
}

// Serve listens on the configured address and serves until the server
// is shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf(
				"error listening on %s %q: %w",
				a.config.ListenNetwork,
				a.config.Listen,
				err,
			)
		}
		a.listener = ln
	}
	a.logger.Info("api listening", "address", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

// Shutdown gracefully stops the HTTP server.
func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, httpReply{Message: "ok"})
}

// patreonCallback handles the OAuth redirect from Patreon. The state
// parameter carries the Discord guild ID the pledge should be linked to.
func (a *API) patreonCallback(c *gin.Context) {
	logger := ginContextLogger(c, a.logger)

	code := c.Query("code")
	guildID := c.Query("state")
	if code == "" || guildID == "" {
		c.AbortWithStatusJSON(
			http.StatusBadRequest,
			httpError{Error: "missing code or state"},
		)
		return
	}

	token, err := a.exchangePatreonCode(c.Request.Context(), code)
	if err != nil {
		logger.Error("patreon token exchange failed", tint.Err(err))
		ginReplyError(c, "token exchange failed")
		return
	}

	identity, err := a.fetchPatreonIdentity(c.Request.Context(), token)
	if err != nil {
		logger.Error("patreon identity lookup failed", tint.Err(err))
		ginReplyError(c, "identity lookup failed")
		return
	}

	tier := patreonTier(identity)
	if err = a.subscriptions.Grant(
		guildID,
		tier,
		DefaultPatreonGrantDuration,
		identity.Data.ID,
	); err != nil {
		logger.Error(
			"error granting subscription",
			tint.Err(err),
			"guild_id", guildID,
			"tier", tier,
		)
		ginReplyError(c, "subscription update failed")
		return
	}

	logger.Info(
		"linked patreon pledge",
		"guild_id", guildID,
		"tier", tier,
		"patreon_user_id", identity.Data.ID,
	)
	ginReplyMessage(c, fmt.Sprintf("サブスクリプション（%s）を有効化しました。", tier))
}

type patreonTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type patreonIdentity struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			FullName string `json:"full_name"`
		} `json:"attributes"`
	} `json:"data"`
	Included []struct {
		Type       string `json:"type"`
		Attributes struct {
			PatronStatus            string `json:"patron_status"`
			CurrentlyEntitledAmount int    `json:"currently_entitled_amount_cents"`
		} `json:"attributes"`
	} `json:"included"`
}

// exchangePatreonCode trades the OAuth authorization code for an access
// token.
func (a *API) exchangePatreonCode(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {a.config.Patreon.ClientID},
		"client_secret": {a.config.Patreon.ClientSecret},
		"redirect_uri":  {a.config.Patreon.RedirectURI},
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		a.config.Patreon.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf(
			"token endpoint returned %d: %s",
			resp.StatusCode,
			string(body),
		)
	}

	var tokenResp patreonTokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}
	return tokenResp.AccessToken, nil
}

// fetchPatreonIdentity retrieves the patron's identity and membership
// for the authenticated token.
func (a *API) fetchPatreonIdentity(ctx context.Context, token string) (
	*patreonIdentity,
	error,
) {
	identityURL := fmt.Sprintf(
		"%s?include=memberships&fields%%5Bmember%%5D=patron_status,currently_entitled_amount_cents",
		a.config.Patreon.IdentityURL,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identityURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf(
			"identity endpoint returned %d: %s",
			resp.StatusCode,
			string(body),
		)
	}

	var identity patreonIdentity
	if err = json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// patreonTier maps a patron's entitlement to a subscription tier: active
// patrons at or above the premium threshold get premium, other active
// patrons get basic, everyone else stays on trial.
func patreonTier(identity *patreonIdentity) SubscriptionTier {
	for _, inc := range identity.Included {
		if inc.Type != "member" {
			continue
		}
		if inc.Attributes.PatronStatus != "active_patron" {
			continue
		}
		if inc.Attributes.CurrentlyEntitledAmount >= premiumPledgeThresholdCents {
			return TierPremium
		}
		return TierBasic
	}
	return TierTrial
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware returns a Gin middleware function for logging HTTP
// requests.
//
// It logs the request method, path, remote address, user agent, referer,
// and the duration of the request. If there are any errors, it logs them
// as well.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware returns a Gin middleware function for tracking API
// request metrics.
//
// It increments the request count for each unique combination of HTTP
// method and URL path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
