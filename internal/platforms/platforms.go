// Package platforms wires the concrete searchers into a search.Registry.
package platforms

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/sift/internal/platforms/google"
	"github.com/FranksOps/sift/internal/platforms/serp"
	"github.com/FranksOps/sift/internal/scraper"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/pkg/httpclient"
)

// GoogleConfig configures the Google Custom Search platform.
type GoogleConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	APIKey     string  `mapstructure:"api_key"`
	EngineID   string  `mapstructure:"engine_id"`
	BaseURL    string  `mapstructure:"base_url"`
	QPS        float64 `mapstructure:"qps"`
	PerRequest int     `mapstructure:"per_request"`
	MaxResults int     `mapstructure:"max_results"`
}

// SERPConfig configures an HTML results page platform.
type SERPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// Config selects and configures platforms.
type Config struct {
	Google     GoogleConfig `mapstructure:"google"`
	Weixin     SERPConfig   `mapstructure:"weixin"`
	Zhihu      SERPConfig   `mapstructure:"zhihu"`
	DuckDuckGo SERPConfig   `mapstructure:"duckduckgo"`
}

// Build registers every enabled platform, in the order weixin, zhihu,
// google, duckduckgo. fetcher serves the HTML platforms.
func Build(cfg Config, fetcher *scraper.Fetcher, logger *slog.Logger) (*search.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := search.NewRegistry()

	if cfg.Weixin.Enabled {
		s := serp.New(serp.Weixin(cfg.Weixin.BaseURL), fetcher, logger)
		if err := reg.Register(serp.WeixinName, s); err != nil {
			return nil, err
		}
	}

	if cfg.Zhihu.Enabled {
		s := serp.New(serp.Zhihu(cfg.Zhihu.BaseURL), fetcher, logger)
		if err := reg.Register(serp.ZhihuName, s); err != nil {
			return nil, err
		}
	}

	if cfg.Google.Enabled {
		client, err := httpclient.New(httpclient.Config{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("google client: %w", err)
		}
		g, err := google.New(google.Config{
			APIKey:     cfg.Google.APIKey,
			EngineID:   cfg.Google.EngineID,
			BaseURL:    cfg.Google.BaseURL,
			QPS:        cfg.Google.QPS,
			PerRequest: cfg.Google.PerRequest,
			MaxResults: cfg.Google.MaxResults,
		}, client, logger.With("platform", "google"))
		if err != nil {
			return nil, err
		}
		if cfg.Google.APIKey == "" || cfg.Google.EngineID == "" {
			logger.Warn("google enabled without credentials; its searches will fail")
		}
		if err := reg.Register("google", g); err != nil {
			return nil, err
		}
	}

	if cfg.DuckDuckGo.Enabled {
		s := serp.New(serp.DuckDuckGo(cfg.DuckDuckGo.BaseURL), fetcher, logger)
		if err := reg.Register(serp.DuckDuckGoName, s); err != nil {
			return nil, err
		}
	}

	if len(reg.Names()) == 0 {
		return nil, fmt.Errorf("platforms: no platform enabled")
	}
	return reg, nil
}
