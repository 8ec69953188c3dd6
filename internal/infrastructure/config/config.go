package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

// 环境变量
const (
	EnvConfigPath  = "SHELFWATCH_CONFIG"
	EnvWatchDir    = "SHELFWATCH_WATCH_DIR"
	EnvHTTPPort    = "SHELFWATCH_HTTP_PORT"
	EnvStoreDriver = "SHELFWATCH_STORE_DRIVER"
	EnvStoreDSN    = "SHELFWATCH_STORE_DSN"
)

// ConfigFileName 数据目录下的默认配置文件名
const ConfigFileName = "config.yaml"

// Config 应用配置
type Config struct {
	Watch    WatchConfig    `yaml:"watch"`
	Store    StoreConfig    `yaml:"store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Insight  InsightConfig  `yaml:"insight"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Server   ServerConfig   `yaml:"server"`
}

// WatchConfig 目录监听配置
type WatchConfig struct {
	Dir                 string   `yaml:"dir" validate:"required"`
	Extensions          []string `yaml:"extensions" validate:"min=1,dive,required"`
	SettleWindowSeconds float64  `yaml:"settle_window_seconds" validate:"gt=0"`
	Recursive           bool     `yaml:"recursive"`
	ReconcileSchedule   string   `yaml:"reconcile_schedule"` // cron 表达式，空表示不做定期对账
	MaxReadRetries      int      `yaml:"max_read_retries" validate:"gte=0"`
}

// SettleWindow 防抖窗口
func (w WatchConfig) SettleWindow() time.Duration {
	return time.Duration(w.SettleWindowSeconds * float64(time.Second))
}

// StoreConfig 存储配置
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite mysql"`
	DSN    string `yaml:"dsn"` // sqlite 时为文件路径，留空使用数据目录
}

// PipelineConfig 摄取流水线配置
type PipelineConfig struct {
	MaxAttempts   int `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BackoffBaseMs int `yaml:"backoff_base_ms" validate:"gte=0"`
	BackoffMaxMs  int `yaml:"backoff_max_ms" validate:"gte=0"`
	Concurrency   int `yaml:"concurrency" validate:"gte=1"`
}

// DatasetConfig 数据集结构配置
type DatasetConfig struct {
	KeyColumns      []string          `yaml:"key_columns" validate:"min=1"`
	RequiredColumns []string          `yaml:"required_columns"`
	Columns         map[string]string `yaml:"columns" validate:"dive,oneof=string int float bool time"`
	Delimiter       string            `yaml:"delimiter" validate:"omitempty,len=1"` // 空表示按扩展名推断
	Encoding        string            `yaml:"encoding" validate:"oneof=auto utf-8 gbk"`
}

// Schema 转换为领域结构声明
func (d DatasetConfig) Schema() dataset.Schema {
	required := make(map[string]bool, len(d.RequiredColumns))
	for _, name := range d.RequiredColumns {
		required[dataset.Normalize(name)] = true
	}
	s := dataset.Schema{KeyColumns: make([]string, 0, len(d.KeyColumns))}
	for _, k := range d.KeyColumns {
		s.KeyColumns = append(s.KeyColumns, dataset.Normalize(k))
	}
	seen := make(map[string]bool)
	for name, typ := range d.Columns {
		name = dataset.Normalize(name)
		seen[name] = true
		s.Columns = append(s.Columns, dataset.Column{
			Name:     name,
			Type:     dataset.ColumnType(typ),
			Required: required[name],
		})
	}
	// 只声明为必需、未声明类型的列按字符串处理
	for name := range required {
		if !seen[name] {
			s.Columns = append(s.Columns, dataset.Column{Name: name, Type: dataset.TypeString, Required: true})
		}
	}
	sort.Slice(s.Columns, func(i, j int) bool { return s.Columns[i].Name < s.Columns[j].Name })
	return s
}

// InsightConfig 洞察生成配置
type InsightConfig struct {
	Workers             int       `yaml:"workers" validate:"gte=1"`
	MaxAttempts         int       `yaml:"max_attempts" validate:"gte=1"`
	RetryDelaySeconds   float64   `yaml:"retry_delay_seconds" validate:"gte=0"`
	PollIntervalSeconds float64   `yaml:"poll_interval_seconds" validate:"gt=0"`
	RatePerSecond       float64   `yaml:"rate_per_second" validate:"gte=0"` // 0 表示不限速
	TopLimit            int       `yaml:"top_limit"`
	LLM                 LLMConfig `yaml:"llm"`
}

// RetryDelay 重试间隔
func (i InsightConfig) RetryDelay() time.Duration {
	return time.Duration(i.RetryDelaySeconds * float64(time.Second))
}

// PollInterval 轮询间隔
func (i InsightConfig) PollInterval() time.Duration {
	return time.Duration(i.PollIntervalSeconds * float64(time.Second))
}

// LLMConfig OpenAI 兼容接口配置
type LLMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model" validate:"required_if=Enabled true"`
	Language string `yaml:"language"`
}

// ArchiveConfig 对象存储归档配置
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket" validate:"required_if=Enabled true"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort string `yaml:"http_port" validate:"required"` // 固定端口，用于单例锁
}

// NewConfig 创建配置（默认值）
func NewConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load 加载配置文件
// path 为空时依次尝试 SHELFWATCH_CONFIG 和数据目录下的 config.yaml，文件不存在时使用默认值
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = filepath.Join(GetDataDir(), ConfigFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			data = nil
		} else {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse 解析 YAML 并应用环境变量、默认值和校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvWatchDir); v != "" {
		c.Watch.Dir = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		c.Server.HTTPPort = v
	}
	if v := os.Getenv(EnvStoreDriver); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv(EnvStoreDSN); v != "" {
		c.Store.DSN = v
	}
}

// applyDefaults 填充默认值
func (c *Config) applyDefaults() {
	if c.Watch.Dir == "" {
		c.Watch.Dir = "./csv_folder"
	}
	if abs, err := filepath.Abs(c.Watch.Dir); err == nil {
		c.Watch.Dir = abs
	}
	if len(c.Watch.Extensions) == 0 {
		c.Watch.Extensions = []string{".csv", ".tsv"}
	}
	for i, ext := range c.Watch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Watch.Extensions[i] = ext
	}
	if c.Watch.SettleWindowSeconds == 0 {
		c.Watch.SettleWindowSeconds = 3
	}
	if c.Watch.ReconcileSchedule == "" {
		c.Watch.ReconcileSchedule = "@every 10m"
	}
	if c.Watch.MaxReadRetries == 0 {
		c.Watch.MaxReadRetries = 5
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = GetDBPath()
	}

	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.BackoffBaseMs == 0 {
		c.Pipeline.BackoffBaseMs = 500
	}
	if c.Pipeline.BackoffMaxMs == 0 {
		c.Pipeline.BackoffMaxMs = 10000
	}
	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = 4
	}

	if len(c.Dataset.KeyColumns) == 0 && len(c.Dataset.Columns) == 0 {
		c.Dataset = defaultDataset(c.Dataset)
	}
	if c.Dataset.Encoding == "" {
		c.Dataset.Encoding = "auto"
	}

	if c.Insight.Workers == 0 {
		c.Insight.Workers = 2
	}
	if c.Insight.MaxAttempts == 0 {
		c.Insight.MaxAttempts = 2
	}
	if c.Insight.RetryDelaySeconds == 0 {
		c.Insight.RetryDelaySeconds = 5
	}
	if c.Insight.PollIntervalSeconds == 0 {
		c.Insight.PollIntervalSeconds = 2
	}
	c.Insight.TopLimit = ClampTopLimit(c.Insight.TopLimit)
	if c.Insight.LLM.Language == "" {
		c.Insight.LLM.Language = "en"
	}

	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "datasets"
	}

	if c.Server.HTTPPort == "" {
		c.Server.HTTPPort = ":19970"
	}
	if _, err := strconv.Atoi(c.Server.HTTPPort); err == nil {
		c.Server.HTTPPort = ":" + c.Server.HTTPPort
	}
}

// ClampTopLimit 限制榜单条数在 [1,1000]，0 或负数使用默认值 10
func ClampTopLimit(n int) int {
	switch {
	case n <= 0:
		return 10
	case n > 1000:
		return 1000
	}
	return n
}

// validate 结构校验
func (c *Config) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	var errs []string
	if c.Store.Driver == "mysql" && c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required for mysql")
	}
	schema := c.Dataset.Schema()
	for _, k := range schema.KeyColumns {
		if _, ok := schema.Lookup(k); !ok {
			errs = append(errs, fmt.Sprintf("dataset.key_columns: %q has no declared type", k))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func defaultDataset(d DatasetConfig) DatasetConfig {
	s := dataset.RetailProductSchema()
	d.KeyColumns = s.KeyColumns
	d.Columns = make(map[string]string, len(s.Columns))
	d.RequiredColumns = nil
	for _, c := range s.Columns {
		d.Columns[c.Name] = string(c.Type)
		if c.Required {
			d.RequiredColumns = append(d.RequiredColumns, c.Name)
		}
	}
	return d
}

// NewWatchConfig 创建监听配置
func NewWatchConfig(cfg *Config) *WatchConfig {
	return &cfg.Watch
}

// NewStoreConfig 创建存储配置
func NewStoreConfig(cfg *Config) *StoreConfig {
	return &cfg.Store
}

// NewPipelineConfig 创建流水线配置
func NewPipelineConfig(cfg *Config) *PipelineConfig {
	return &cfg.Pipeline
}

// NewDatasetConfig 创建数据集配置
func NewDatasetConfig(cfg *Config) *DatasetConfig {
	return &cfg.Dataset
}

// NewInsightConfig 创建洞察配置
func NewInsightConfig(cfg *Config) *InsightConfig {
	return &cfg.Insight
}

// NewArchiveConfig 创建归档配置
func NewArchiveConfig(cfg *Config) *ArchiveConfig {
	return &cfg.Archive
}

// NewServerConfig 创建服务器配置
func NewServerConfig(cfg *Config) *ServerConfig {
	return &cfg.Server
}
