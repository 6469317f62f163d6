package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Stream struct {
		// SettleDelay: espera fija antes de re-leer un registro tras una
		// notificación, para dejar asentar transacciones multi-statement.
		SettleDelay string `yaml:"settle_delay"`
	} `yaml:"stream"`

	Lock struct {
		// Kind: memory | redis
		Kind string `yaml:"kind"`
		// TTL: ventana de seguridad tras la cual un lock se libera solo.
		TTL   string `yaml:"ttl"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"lock"`

	Calendar struct {
		BaseURL    string `yaml:"base_url"`
		Token      string `yaml:"token"`
		Timeout    string `yaml:"timeout"`
		MaxRetries int    `yaml:"max_retries"`
		// LookupTTL: TTL del cache de lookups joineados (cliente, responsables).
		LookupTTL string `yaml:"lookup_ttl"`
	} `yaml:"calendar"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Stream.SettleDelay == "" {
		c.Stream.SettleDelay = "350ms"
	}
	if c.Lock.Kind == "" {
		c.Lock.Kind = "memory"
	}
	if c.Lock.TTL == "" {
		c.Lock.TTL = "1s"
	}
	if c.Calendar.Timeout == "" {
		c.Calendar.Timeout = "20s"
	}
	if c.Calendar.MaxRetries == 0 {
		c.Calendar.MaxRetries = 3
	}
	if c.Calendar.LookupTTL == "" {
		c.Calendar.LookupTTL = "2m"
	}

	// Overrides por env
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate chequea coherencia y que las duraciones parseen.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("config: storage.dsn es requerido")
	}
	switch c.Lock.Kind {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Lock.Redis.Addr) == "" {
			return fmt.Errorf("config: lock.redis.addr es requerido con lock.kind=redis")
		}
	default:
		return fmt.Errorf("config: lock.kind desconocido %q", c.Lock.Kind)
	}
	for name, s := range map[string]string{
		"stream.settle_delay":                c.Stream.SettleDelay,
		"lock.ttl":                           c.Lock.TTL,
		"calendar.timeout":                   c.Calendar.Timeout,
		"calendar.lookup_ttl":                c.Calendar.LookupTTL,
		"storage.postgres.conn_max_lifetime": c.Storage.Postgres.ConnMaxLifetime,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: %s inválido: %w", name, err)
		}
	}
	return nil
}

// SettleDelay devuelve la duración parseada (ya validada en Load).
func (c *Config) SettleDelay() time.Duration {
	return mustDur(c.Stream.SettleDelay, 350*time.Millisecond)
}

// LockTTL devuelve la ventana de seguridad del lock.
func (c *Config) LockTTL() time.Duration { return mustDur(c.Lock.TTL, time.Second) }

// CalendarTimeout devuelve el timeout HTTP del cliente de calendario.
func (c *Config) CalendarTimeout() time.Duration { return mustDur(c.Calendar.Timeout, 20*time.Second) }

// LookupTTL devuelve el TTL del cache de lookups.
func (c *Config) LookupTTL() time.Duration { return mustDur(c.Calendar.LookupTTL, 2*time.Minute) }

func mustDur(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvStr("STREAM_SETTLE_DELAY"); ok {
		c.Stream.SettleDelay = v
	}
	if v, ok := getEnvStr("LOCK_KIND"); ok {
		c.Lock.Kind = v
	}
	if v, ok := getEnvStr("LOCK_TTL"); ok {
		c.Lock.TTL = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Lock.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Lock.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Lock.Redis.Prefix = v
	}
	if v, ok := getEnvStr("CALENDAR_BASE_URL"); ok {
		c.Calendar.BaseURL = v
	}
	if v, ok := getEnvStr("CALENDAR_TOKEN"); ok {
		c.Calendar.Token = v
	}
	if v, ok := getEnvInt("CALENDAR_MAX_RETRIES"); ok {
		c.Calendar.MaxRetries = v
	}
}
