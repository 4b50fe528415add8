package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Mode string `yaml:"mode"` // dev | prod
	} `yaml:"log"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Redis struct {
		Addr        string   `yaml:"addr"`
		Password    string   `yaml:"password"`
		DB          int      `yaml:"db"`
		QueueName   string   `yaml:"queueName"`
		DialTimeout Duration `yaml:"dialTimeout"`
		JobTimeout  Duration `yaml:"jobTimeout"`
		ResultTTL   Duration `yaml:"resultTTL"`
	} `yaml:"redis"`

	Model struct {
		BaseURL      string  `yaml:"baseURL"`
		APIKey       string  `yaml:"apiKey"`
		Name         string  `yaml:"name"`
		MinGPUMemGiB float64 `yaml:"minGPUMemGiB"`
	} `yaml:"model"`

	Auth struct {
		JWTSecret string   `yaml:"jwtSecret"`
		TokenTTL  Duration `yaml:"tokenTTL"`
	} `yaml:"auth"`

	STT struct {
		Enabled       bool `yaml:"enabled"`
		RecordSeconds int  `yaml:"recordSeconds"`
	} `yaml:"stt"`
}

// Duration accepts "20m" style strings or bare integers (seconds) in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, perr := time.ParseDuration(s)
		if perr != nil {
			return perr
		}
		d.Duration = v
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	d.Duration = time.Duration(n) * time.Second
	return nil
}

// Load baca file config.yaml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Redis.QueueName == "" {
		c.Redis.QueueName = "visioncap:jobs"
	}
	if c.Redis.DialTimeout.Duration == 0 {
		c.Redis.DialTimeout.Duration = 2 * time.Second
	}
	if c.Redis.JobTimeout.Duration == 0 {
		c.Redis.JobTimeout.Duration = 20 * time.Minute
	}
	if c.Redis.ResultTTL.Duration == 0 {
		c.Redis.ResultTTL.Duration = 24 * time.Hour
	}
	if c.Model.MinGPUMemGiB == 0 {
		c.Model.MinGPUMemGiB = 4
	}
	if c.Auth.TokenTTL.Duration == 0 {
		c.Auth.TokenTTL.Duration = 24 * time.Hour
	}
	if c.STT.RecordSeconds == 0 {
		c.STT.RecordSeconds = 15
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	ssl := c.Database.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		ssl,
	)
}
