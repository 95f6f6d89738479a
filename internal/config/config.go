package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sitegate/internal/logging"
)

// EnvPrefix is the prefix of environment overrides; "__" separates sections,
// e.g. SITEGATE_SITE__API_URL sets site.api_url
const EnvPrefix = "SITEGATE_"

// Config represents the application configuration
type Config struct {
	Site struct {
		URL           string   `koanf:"url"`
		APIURL        string   `koanf:"api_url"`
		DefaultLocale string   `koanf:"default_locale"`
		Locales       []string `koanf:"locales"`
	} `koanf:"site"`

	Client struct {
		Timeout   time.Duration `koanf:"timeout"`
		RateLimit float64       `koanf:"rate_limit"` // requests per second, 0 disables
		Burst     int           `koanf:"burst"`
		UserAgent string        `koanf:"user_agent"`
	} `koanf:"client"`

	Endpoints Endpoints `koanf:"endpoints"`

	Verification struct {
		AutoSubmitDelay time.Duration `koanf:"auto_submit_delay"`
	} `koanf:"verification"`

	Dashboard struct {
		PerPage int `koanf:"per_page"`
	} `koanf:"dashboard"`

	Retry struct {
		MaxRetries int           `koanf:"max_retries"`
		BaseDelay  time.Duration `koanf:"base_delay"`
		MaxDelay   time.Duration `koanf:"max_delay"`
		Multiplier float64       `koanf:"multiplier"`
		Jitter     bool          `koanf:"jitter"`
	} `koanf:"retry"`

	State struct {
		Path string `koanf:"path"`
	} `koanf:"state"`

	Log logging.Options `koanf:"log"`

	DevServer struct {
		Port   int    `koanf:"port"`
		Secret string `koanf:"secret"`
	} `koanf:"devserver"`

	// Messages is the notification catalog, keyed by namespaced message key
	Messages map[string]string `koanf:"-"`
}

// Endpoints are API paths relative to the API base URL
type Endpoints struct {
	Identity    string `koanf:"identity"`
	Login       string `koanf:"login"`
	Logout      string `koanf:"logout"`
	VerifyEmail string `koanf:"verify_email"`
	Resend      string `koanf:"resend_verification"`
	Comments    string `koanf:"comments"`
	AdminPosts  string `koanf:"admin_posts"`
	Health      string `koanf:"health"`
}

// Defaults returns the built-in configuration values
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"site.url":                       "http://localhost:4321",
		"site.default_locale":            "en",
		"site.locales":                   []string{"en", "pl"},
		"client.timeout":                 "15s",
		"client.rate_limit":              5.0,
		"client.burst":                   5,
		"client.user_agent":              "sitegate/" + Version,
		"endpoints.identity":             "/auth/me",
		"endpoints.login":                "/auth/login",
		"endpoints.logout":               "/auth/logout",
		"endpoints.verify_email":         "/auth/verify-email",
		"endpoints.resend_verification":  "/auth/resend-verification",
		"endpoints.comments":             "/comments",
		"endpoints.admin_posts":          "/blog/admin/posts",
		"endpoints.health":               "/health",
		"verification.auto_submit_delay": "500ms",
		"dashboard.per_page":             100,
		"retry.max_retries":              2,
		"retry.base_delay":               "500ms",
		"retry.max_delay":                "5s",
		"retry.multiplier":               2.0,
		"retry.jitter":                   true,
		"state.path":                     "$HOME/.sitegate/state.json",
		"log.level":                      "info",
		"log.format":                     "auto",
		"devserver.port":                 8080,
		"devserver.secret":               "dev-secret-change-me",
	}
}

// Version is the application version reported in the user agent
const Version = "0.1.0"

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	// Load from TOML file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./sitegate.toml", "$HOME/.sitegate/sitegate.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix SITEGATE_
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	config.Messages = make(map[string]string)
	for key, value := range k.Cut("messages").All() {
		if s, ok := value.(string); ok {
			config.Messages[key] = s
		}
	}

	config.State.Path = os.ExpandEnv(config.State.Path)

	return &config, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

const sampleConfig = `# sitegate configuration

[site]
url = "http://localhost:4321"
# api_url = "https://example.com/api"
default_locale = "en"
locales = ["en", "pl"]

[client]
timeout = "15s"
rate_limit = 5.0
burst = 5

[verification]
auto_submit_delay = "500ms"

[dashboard]
per_page = 100

[retry]
max_retries = 2
base_delay = "500ms"
max_delay = "5s"

[log]
level = "info"
format = "auto"

[messages]
"api.EMAIL_VERIFICATION_SUCCESS" = "Your email has been verified."
"api.VERIFICATION_CODE_SENT" = "A new verification code has been sent."
"api.EMAIL_ALREADY_VERIFIED" = "This email is already verified."
`

// SampleSections lists the tables InitConfig writes, in file order
func SampleSections() []string {
	var sections []string
	for _, line := range strings.Split(sampleConfig, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			sections = append(sections, strings.Trim(line, "[]"))
		}
	}
	return sections
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Site.URL == "" && config.Site.APIURL == "" {
		return fmt.Errorf("site.url or site.api_url is required")
	}

	for _, raw := range []string{config.Site.URL, config.Site.APIURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid URL %q: must be absolute", raw)
		}
	}

	if config.Site.DefaultLocale == "" {
		return fmt.Errorf("site.default_locale is required")
	}

	if config.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}

	if config.Client.RateLimit < 0 {
		return fmt.Errorf("client.rate_limit must not be negative")
	}

	if config.Verification.AutoSubmitDelay < 0 {
		return fmt.Errorf("verification.auto_submit_delay must not be negative")
	}

	if config.Dashboard.PerPage < 1 || config.Dashboard.PerPage > 100 {
		return fmt.Errorf("dashboard.per_page must be between 1 and 100")
	}

	if config.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}

	if config.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	return nil
}
