package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Qdrant        QdrantConfig        `yaml:"qdrant"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Firestore     FirestoreConfig     `yaml:"firestore"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	LLM           LLMConfig           `yaml:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Search        SearchConfig        `yaml:"search"`
	Quota         QuotaConfig         `yaml:"quota"`
	Casual        CasualConfig        `yaml:"casual"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type QdrantConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	APIKey         string        `yaml:"api_key"`
	UseTLS         bool          `yaml:"use_tls"`
	Collection     string        `yaml:"collection"`
	VectorSize     int           `yaml:"vector_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type ElasticsearchConfig struct {
	Addresses         []string      `yaml:"addresses"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Index             string        `yaml:"index"`
	BulkSize          int           `yaml:"bulk_size"`
	BulkFlushInterval time.Duration `yaml:"bulk_flush_interval"`
}

type ClickHouseConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

type FirestoreConfig struct {
	ProjectID          string        `yaml:"project_id"`
	CredentialsFile    string        `yaml:"credentials_file"`
	ProfilesCollection string        `yaml:"profiles_collection"`
	CasualCollection   string        `yaml:"casual_collection"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxBatchSize       int           `yaml:"max_batch_size"`
}

type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	TopicProfiles string        `yaml:"topic_profiles"`
	TopicDLQ      string        `yaml:"topic_dlq"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

type LLMConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	Temperature    float32       `yaml:"temperature"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type EmbeddingConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	Dimensions     int           `yaml:"dimensions"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type SearchConfig struct {
	RetrievalK      int                  `yaml:"retrieval_k"`
	DefaultPageSize int                  `yaml:"default_page_size"`
	MaxPageSize     int                  `yaml:"max_page_size"`
	ScoreThreshold  float32              `yaml:"score_threshold"`
	SeenWindow      time.Duration        `yaml:"seen_window"`
	QueryTimeout    time.Duration        `yaml:"query_timeout"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry           RetryConfig          `yaml:"retry"`
	SlowPipeline    SlowPipelineConfig   `yaml:"slow_pipeline"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

// RetryConfig applies to the offline indexing path only. Request-path calls
// are attempted once and degrade on failure.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

type SlowPipelineConfig struct {
	WarningThreshold  time.Duration `yaml:"warning_threshold"`
	CriticalThreshold time.Duration `yaml:"critical_threshold"`
}

type QuotaConfig struct {
	// DailyLimits maps membership tier to allowed discovery requests per
	// day. A limit of -1 is unlimited.
	DailyLimits map[string]int `yaml:"daily_limits"`
	DefaultTier string         `yaml:"default_tier"`
}

type CasualConfig struct {
	ExpiryAge     time.Duration `yaml:"expiry_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

type ObservabilityConfig struct {
	TracingEndpoint string `yaml:"tracing_endpoint"`
	LogLevel        string `yaml:"log_level"`
	ServiceName     string `yaml:"service_name"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addresses:    []string{"localhost:6379"},
			PoolSize:     100,
			MinIdleConns: 10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
		},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			Collection:     "user_profiles",
			VectorSize:     1024,
			RequestTimeout: 2 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:         []string{"http://localhost:9200"},
			MaxRetries:        3,
			RequestTimeout:    500 * time.Millisecond,
			Index:             "profiles",
			BulkSize:          1000,
			BulkFlushInterval: 5 * time.Second,
		},
		ClickHouse: ClickHouseConfig{
			Addresses:    []string{"localhost:9000"},
			Database:     "discovery_analytics",
			DialTimeout:  5 * time.Second,
			QueryTimeout: 2 * time.Second,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Firestore: FirestoreConfig{
			ProfilesCollection: "profiles",
			CasualCollection:   "casual_requests",
			RequestTimeout:     2 * time.Second,
			MaxBatchSize:       100,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			TopicProfiles: "profiles.changes",
			TopicDLQ:      "profiles.changes.dlq",
			ConsumerGroup: "discovery-indexer",
			BatchSize:     1000,
			BatchTimeout:  1 * time.Second,
			MaxRetries:    3,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.deepseek.com/v1",
			Model:          "deepseek-chat",
			Temperature:    0.2,
			RequestTimeout: 8 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:          "BAAI/bge-m3",
			Dimensions:     1024,
			RequestTimeout: 3 * time.Second,
		},
		Search: SearchConfig{
			RetrievalK:      50,
			DefaultPageSize: 10,
			MaxPageSize:     20,
			ScoreThreshold:  0.30,
			SeenWindow:      24 * time.Hour,
			QueryTimeout:    15 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      100,
				Interval:         30 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				InitialWait: 100 * time.Millisecond,
				MaxWait:     2 * time.Second,
				Multiplier:  2.0,
			},
			SlowPipeline: SlowPipelineConfig{
				WarningThreshold:  3 * time.Second,
				CriticalThreshold: 10 * time.Second,
			},
		},
		Quota: QuotaConfig{
			DailyLimits: map[string]int{
				"free":    10,
				"premium": 100,
				"vip":     -1,
			},
			DefaultTier: "free",
		},
		Casual: CasualConfig{
			ExpiryAge:     7 * 24 * time.Hour,
			SweepInterval: 1 * time.Hour,
			SweepBatch:    200,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			ServiceName: "ques-discovery",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("at least one redis address required")
	}
	if c.Qdrant.Host == "" {
		return fmt.Errorf("qdrant host required")
	}
	if c.Qdrant.VectorSize <= 0 {
		return fmt.Errorf("qdrant vector size must be positive")
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("at least one elasticsearch address required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model required")
	}
	if c.Embedding.Dimensions != c.Qdrant.VectorSize {
		return fmt.Errorf("embedding dimensions (%d) must match qdrant vector size (%d)",
			c.Embedding.Dimensions, c.Qdrant.VectorSize)
	}
	if c.Search.RetrievalK <= 0 {
		return fmt.Errorf("retrieval k must be positive")
	}
	if c.Search.DefaultPageSize <= 0 {
		return fmt.Errorf("default page size must be positive")
	}
	if c.Search.MaxPageSize <= 0 || c.Search.MaxPageSize > 100 {
		return fmt.Errorf("max page size must be between 1 and 100")
	}
	if c.Search.ScoreThreshold < 0 || c.Search.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be within [0,1]")
	}
	if c.Casual.ExpiryAge <= 0 {
		return fmt.Errorf("casual expiry age must be positive")
	}
	if c.Quota.DefaultTier == "" {
		return fmt.Errorf("quota default tier required")
	}
	if _, ok := c.Quota.DailyLimits[c.Quota.DefaultTier]; !ok {
		return fmt.Errorf("quota default tier %q has no daily limit", c.Quota.DefaultTier)
	}
	return nil
}
