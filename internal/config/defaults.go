package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "clip"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 77
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 32
	}
	if cfg.Index.DirName == "" {
		cfg.Index.DirName = ".miru_index"
	}
	if cfg.Index.Extensions == nil {
		cfg.Index.Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}
	}
	if cfg.Search.MinResults == 0 {
		cfg.Search.MinResults = 3
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 48
	}
	if cfg.Search.DefaultResults == 0 {
		cfg.Search.DefaultResults = 12
	}
	if cfg.Annotations.MaxCommentLength == 0 {
		cfg.Annotations.MaxCommentLength = 100
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 400
	}
}
