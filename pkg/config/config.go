package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EnvResult reports whether environment overrides were present.
type EnvResult struct {
	EnvUsed bool
}

// EffectiveConfigResult holds the config chosen from flags, file or env,
// plus the resolved listen address and DB path.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// QueueDir returns the durable queue directory, defaulting to a "queue"
// directory beside the DB path.
func (c *Config) QueueDir() string {
	if c.Storage.QueueDir != "" {
		return c.Storage.QueueDir
	}
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath + "-queue"
	}
	return "./.queue"
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads FORMFLOW_* environment variables into a fresh
// Config and reports whether any were present. This function does not
// mutate any caller-provided config.
func ParseConfigEnvs() (*Config, EnvResult) {
	envCfg := &Config{}
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	setStr := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			envUsed = true
			*dst = v
		}
	}

	if v := os.Getenv("FORMFLOW_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		setStr("FORMFLOW_SERVER_ADDRESS", &envCfg.Server.Address)
		if port := os.Getenv("FORMFLOW_SERVER_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				envCfg.Server.Port = pi
			}
		}
	}

	setStr("FORMFLOW_DB_PATH", &envCfg.Storage.DBPath)
	setStr("FORMFLOW_QUEUE_DIR", &envCfg.Storage.QueueDir)

	setStr("FORMFLOW_WA_API_URL", &envCfg.WhatsApp.APIURL)
	setStr("FORMFLOW_WA_PHONE_NUMBER_ID", &envCfg.WhatsApp.PhoneNumberID)
	setStr("FORMFLOW_WA_ACCESS_TOKEN", &envCfg.WhatsApp.AccessToken)
	setStr("FORMFLOW_WA_WEBHOOK_SECRET", &envCfg.WhatsApp.WebhookSecret)
	setStr("FORMFLOW_WA_VERIFY_TOKEN", &envCfg.WhatsApp.VerifyToken)
	if v := os.Getenv("FORMFLOW_WA_SEND_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			envCfg.WhatsApp.SendRPS = f
		}
	}

	if v := os.Getenv("FORMFLOW_QUEUE_POLL_INTERVAL"); v != "" {
		var d Duration
		if err := yaml.Unmarshal([]byte(v), &d); err == nil {
			envUsed = true
			envCfg.Queue.PollInterval = d
		}
	}
	if v := os.Getenv("FORMFLOW_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Queue.MaxRetries = n
		}
	}
	if v := os.Getenv("FORMFLOW_QUEUE_RETRY_DELAY"); v != "" {
		var d Duration
		if err := yaml.Unmarshal([]byte(v), &d); err == nil {
			envUsed = true
			envCfg.Queue.RetryDelay = d
		}
	}
	if v := os.Getenv("FORMFLOW_QUEUE_DURABLE"); v != "" {
		envUsed = true
		envCfg.Queue.Durable = boolish(v)
	}

	if v := os.Getenv("FORMFLOW_RETENTION_ENABLED"); v != "" {
		envUsed = true
		envCfg.Retention.Enabled = boolish(v)
	}
	setStr("FORMFLOW_RETENTION_CRON", &envCfg.Retention.Cron)
	if v := os.Getenv("FORMFLOW_RETENTION_IDLE_PERIOD"); v != "" {
		var d Duration
		if err := yaml.Unmarshal([]byte(v), &d); err == nil {
			envUsed = true
			envCfg.Retention.IdlePeriod = d
		}
	}

	if v := os.Getenv("FORMFLOW_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			envCfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("FORMFLOW_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("FORMFLOW_API_BACKEND_KEYS"); v != "" {
		envUsed = true
		envCfg.Security.APIKeys.Backend = parseList(v)
	}
	setStr("FORMFLOW_LOG_LEVEL", &envCfg.Logging.Level)

	return envCfg, EnvResult{EnvUsed: envUsed}
}

func boolish(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// LoadEffectiveConfig decides which single source to use (flags, config
// file, or env). An explicit --config requires the file to exist and
// uses it; explicit addr/db flags win next; otherwise a present config
// file beats env.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Storage.DBPath
		res.Source = "config"
		return res, nil
	}

	if flags.Set["addr"] || flags.Set["db"] {
		addr := flags.Addr
		if !flags.Set["addr"] {
			addr = envCfg.Addr()
			if addr == "" {
				addr = fileCfg.Addr()
			}
		}
		dbPath := flags.DB
		if !flags.Set["db"] {
			if p := strings.TrimSpace(envCfg.Storage.DBPath); p != "" {
				dbPath = p
			} else if p := strings.TrimSpace(fileCfg.Storage.DBPath); p != "" {
				dbPath = p
			}
		}
		// flags carry no credentials; merge the richer of file/env for the rest
		base := envCfg
		if fileExists {
			base = fileCfg
		}
		out := *base
		out.Server.Address = addr
		out.Server.Port = parsePortFromAddr(addr)
		out.Storage.DBPath = dbPath
		res.Config = &out
		res.Addr = addr
		res.DBPath = dbPath
		res.Source = "flags"
		return res, nil
	}

	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Storage.DBPath
		res.Source = "config"
		return res, nil
	}
	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.DBPath = envCfg.Storage.DBPath
	res.Source = "env"
	return res, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and FORMFLOW_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("FORMFLOW_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// parsePortFromAddr extracts port integer from host:port string.
func parsePortFromAddr(a string) int {
	if a == "" {
		return 0
	}
	if _, p, err := net.SplitHostPort(a); err == nil {
		if pi, err := strconv.Atoi(p); err == nil {
			return pi
		}
	}
	return 0
}
