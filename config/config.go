package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	// Image/video task API (API_BASE plus the fixed provider paths)
	ImageAPI ImageAPIConfig

	// Google service account and Sheets configuration
	Google GoogleConfig

	// AI assist configuration
	Assist AssistConfig

	// Upload storage configuration
	Storage StorageConfig

	// HTTP server configuration
	HTTP HTTPConfig

	// Logging configuration
	Log LogConfig
}

// ImageAPIConfig holds the image generation API configuration
type ImageAPIConfig struct {
	APIKey          string
	BaseURL         string // generic create/query pair
	ProviderBaseURL string // gpt4o-image and flux kontext endpoints
}

// GoogleConfig holds Google service account configuration
type GoogleConfig struct {
	SheetID             string
	ServiceAccountEmail string
	PrivateKey          string
	DriveFolderID       string
	TokenURL            string
	SheetsBaseURL       string
	DefaultSheet        string
	ValueInputOption    string // RAW or USER_ENTERED
}

// AssistConfig holds AI assist configuration
type AssistConfig struct {
	Provider       string // anthropic or bedrock
	APIKey         string
	BaseURL        string
	APIVersion     string
	Model          string
	AWSRegion      string
	BedrockModelID string
}

// StorageConfig holds upload storage configuration
type StorageConfig struct {
	UploadsDir     string
	MaxUploadBytes int64
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port                   string
	CORSAllowedOrigins     []string
	UpstreamTimeoutSeconds int
	RequestTimeoutSeconds  int
	IndexPath              string
	MaxBodyBytes           int64
}

// LogConfig holds logging configuration
type LogConfig struct {
	JSON  bool
	Level string
}

// Assist providers
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Sheets value input options
const (
	ValueInputRaw         = "RAW"
	ValueInputUserEntered = "USER_ENTERED"
)

const (
	defaultMaxUploadBytes = 512 << 20
	defaultMaxBodyBytes   = 32 << 20
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ImageAPI: ImageAPIConfig{
			APIKey:          os.Getenv("API_KEY"),
			BaseURL:         strings.TrimRight(os.Getenv("API_BASE"), "/"),
			ProviderBaseURL: strings.TrimRight(getEnvString("KIE_API_BASE", "https://api.kie.ai/api/v1"), "/"),
		},
		Google: GoogleConfig{
			SheetID:             os.Getenv("GOOGLE_SHEET_ID"),
			ServiceAccountEmail: os.Getenv("GOOGLE_SERVICE_ACCOUNT_EMAIL"),
			PrivateKey:          UnescapePrivateKey(os.Getenv("GOOGLE_PRIVATE_KEY")),
			DriveFolderID:       getEnvString("GOOGLE_DRIVE_FOLDER_ID", "root"),
			TokenURL:            getEnvString("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			SheetsBaseURL:       strings.TrimRight(getEnvString("GOOGLE_SHEETS_BASE_URL", "https://sheets.googleapis.com/v4"), "/"),
			DefaultSheet:        getEnvString("SHEETS_DEFAULT_SHEET", "02_Video"),
			ValueInputOption:    strings.ToUpper(getEnvString("SHEETS_VALUE_INPUT_OPTION", ValueInputRaw)),
		},
		Assist: AssistConfig{
			Provider:       strings.ToLower(getEnvString("ASSIST_PROVIDER", ProviderAnthropic)),
			APIKey:         os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:        strings.TrimRight(getEnvString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"), "/"),
			APIVersion:     getEnvString("ANTHROPIC_VERSION", "2023-06-01"),
			Model:          getEnvString("ASSIST_MODEL", "claude-sonnet-4-20250514"),
			AWSRegion:      os.Getenv("AWS_REGION"),
			BedrockModelID: os.Getenv("BEDROCK_MODEL_ID"),
		},
		Storage: StorageConfig{
			UploadsDir:     getEnvString("UPLOADS_DIR", "uploads"),
			MaxUploadBytes: getEnvInt64("UPLOAD_MAX_BYTES", defaultMaxUploadBytes),
		},
		HTTP: HTTPConfig{
			Port:                   getEnvString("PORT", "5000"),
			CORSAllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			UpstreamTimeoutSeconds: getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 60),
			RequestTimeoutSeconds:  getEnvInt("REQUEST_TIMEOUT_SECONDS", 120),
			IndexPath:              getEnvString("STATIC_INDEX_PATH", "../standalone.html"),
			MaxBodyBytes:           getEnvInt64("MAX_BODY_BYTES", defaultMaxBodyBytes),
		},
		Log: LogConfig{
			JSON:  strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
			Level: getEnvString("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
// Missing credentials are not an error: they surface as upstream auth failures.
func (c *Config) Validate() error {
	switch c.Assist.Provider {
	case ProviderAnthropic, ProviderBedrock:
	default:
		return fmt.Errorf("ASSIST_PROVIDER must be %q or %q, got %q", ProviderAnthropic, ProviderBedrock, c.Assist.Provider)
	}

	switch c.Google.ValueInputOption {
	case ValueInputRaw, ValueInputUserEntered:
	default:
		return fmt.Errorf("SHEETS_VALUE_INPUT_OPTION must be %s or %s, got %q", ValueInputRaw, ValueInputUserEntered, c.Google.ValueInputOption)
	}

	if c.HTTP.UpstreamTimeoutSeconds <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT_SECONDS must be positive, got %d", c.HTTP.UpstreamTimeoutSeconds)
	}
	if c.HTTP.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive, got %d", c.HTTP.RequestTimeoutSeconds)
	}
	if c.Storage.UploadsDir == "" {
		return fmt.Errorf("UPLOADS_DIR must not be empty")
	}

	return nil
}

// HasImageAPI returns true if the image API key is available
func (c *Config) HasImageAPI() bool {
	return c.ImageAPI.APIKey != ""
}

// HasGoogle returns true if service account credentials are available
func (c *Config) HasGoogle() bool {
	return c.Google.ServiceAccountEmail != "" && c.Google.PrivateKey != "" && c.Google.SheetID != ""
}

// HasAssist returns true if the configured assist provider has credentials
func (c *Config) HasAssist() bool {
	if c.Assist.Provider == ProviderBedrock {
		return c.Assist.AWSRegion != "" && c.Assist.BedrockModelID != ""
	}
	return c.Assist.APIKey != ""
}

// UnescapePrivateKey turns literal "\n" sequences into newlines so a PEM key
// can be stored on a single env line.
func UnescapePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		ImageAPI: ImageAPIConfig{
			APIKey:          "test-api-key",
			BaseURL:         "http://image-api.invalid/api/v1/jobs",
			ProviderBaseURL: "http://image-api.invalid/api/v1",
		},
		Google: GoogleConfig{
			SheetID:             "test-sheet-id",
			ServiceAccountEmail: "gateway@test-project.iam.gserviceaccount.com",
			PrivateKey:          "",
			DriveFolderID:       "root",
			TokenURL:            "http://oauth.invalid/token",
			SheetsBaseURL:       "http://sheets.invalid/v4",
			DefaultSheet:        "02_Video",
			ValueInputOption:    ValueInputRaw,
		},
		Assist: AssistConfig{
			Provider:   ProviderAnthropic,
			APIKey:     "test-assist-key",
			BaseURL:    "http://assist.invalid",
			APIVersion: "2023-06-01",
			Model:      "claude-sonnet-4-20250514",
		},
		Storage: StorageConfig{
			UploadsDir:     "uploads",
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		HTTP: HTTPConfig{
			Port:                   "5000",
			CORSAllowedOrigins:     []string{"*"},
			UpstreamTimeoutSeconds: 60,
			RequestTimeoutSeconds:  120,
			IndexPath:              "standalone.html",
			MaxBodyBytes:           defaultMaxBodyBytes,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
