package sources

import (
	"bulletin/internal/config"
	"bulletin/internal/feeds"
	"bulletin/internal/fetch"
	"time"
)

// NewDefaultRegistry registers the built-in adapters enabled in cfg.
func NewDefaultRegistry(cfg config.Sources, loc *time.Location) *Registry {
	client := fetch.NewClient(config.Duration(cfg.Timeout, 30*time.Second), cfg.UserAgent)
	reg := NewRegistry()

	if cfg.LessWrong.Enabled {
		fm := feeds.NewFeedManager(client.HTTPClient(), client.UserAgent())
		reg.Register(NewLessWrongAdapter(cfg.LessWrong.URL, fm), cfg.LessWrong.Limit)
	}
	if cfg.HFPapers.Enabled {
		reg.Register(NewHFPapersAdapter(cfg.HFPapers.BaseURL, client), cfg.HFPapers.Limit)
	}
	if cfg.HuggingFace.Enabled {
		reg.Register(NewHFTrendingAdapter(cfg.HuggingFace.BaseURL, client, cfg.SupplementaryConcurrency, loc), cfg.HuggingFace.Limit)
	}
	if cfg.Civitai.Enabled {
		reg.Register(NewCivitaiAdapter(CivitaiOptions{
			BaseURL: cfg.Civitai.BaseURL,
			APIKey:  cfg.Civitai.APIKey,
			Period:  cfg.Civitai.Period,
			Types:   cfg.Civitai.Types,
		}, client, loc), cfg.Civitai.Limit)
	}

	return reg
}
