package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/reportmailer/internal/crypto"
)

const (
	DefaultSubject = "Survey Report Attached {{date}}"
	DefaultBody    = "Please find the attached Survey Report from our recent visit or discussion. " +
		"This is a copy of the information discussed and collected for your records.\n\n" +
		"NOTE: This is an automated message, please do not reply."

	DefaultLogName = "daily_export_log.txt"
)

type Config struct {
	Env string // development, production

	// Portal
	OrgURL       string `validate:"required,url"`
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	Owner        string
	ReportAPIURL string `validate:"required,url"`

	// Survey
	SurveyID      string `validate:"required"`
	TemplateIndex int    `validate:"min=0"`
	Where         string
	UTCOffset     string        `validate:"required"`
	ReportTitle   string        `validate:"required"`
	Window        time.Duration `validate:"gt=0"`

	// Local files
	OutputDir       string `validate:"required"`
	LogFile         string `validate:"required"`
	ReportExtension string `validate:"required,startswith=."`

	// Extraction
	RecipientTable int `validate:"min=0"`
	RecipientRow   int `validate:"min=0"`
	RecipientField string

	// SMTP
	SMTPHost      string `validate:"required,hostname|ip"`
	SMTPPort      int    `validate:"min=1,max=65535"`
	SMTPUser      string
	SMTPPass      string
	SMTPFromEmail string `validate:"required,email"`
	SMTPFromName  string
	SMTPTLS       string `validate:"oneof=starttls tls none"`
	EmailSubject  string `validate:"required"`
	EmailBody     string

	// Run behaviour
	StopOnError     bool
	RequestTimeout  time.Duration `validate:"min=0"`
	GenerateTimeout time.Duration `validate:"gt=0"`

	// Optional outputs
	LedgerPath      string
	MetricsTextfile string

	SecretsKey string
}

// Load reads a .env file if present and builds the Config from the process
// environment.
func Load() (*Config, error) {
	// Load .env file if it exists (don't error if missing)
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds and validates a Config using lookup for every variable.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}

	cfg := &Config{
		Env: e.str("ENV", "production"),

		OrgURL:       strings.TrimRight(e.str("ARCGIS_ORG_URL", ""), "/"),
		Username:     e.str("ARCGIS_USERNAME", ""),
		Password:     e.str("ARCGIS_PASSWORD", ""),
		ClientID:     e.str("ARCGIS_CLIENT_ID", ""),
		ClientSecret: e.str("ARCGIS_CLIENT_SECRET", ""),
		Owner:        e.str("ARCGIS_OWNER", ""),
		ReportAPIURL: strings.TrimRight(e.str("SURVEY123_API_URL", "https://survey123.arcgis.com/api/featureReport"), "/"),

		SurveyID:      e.str("SURVEY_ID", ""),
		TemplateIndex: e.int("REPORT_TEMPLATE_INDEX", 1),
		Where:         e.str("REPORT_WHERE", ""),
		UTCOffset:     e.str("REPORT_UTC_OFFSET", "+00:00"),
		ReportTitle:   e.str("REPORT_TITLE", "Daily_Export"),
		Window:        e.duration("WINDOW", 24*time.Hour),

		OutputDir:       e.str("OUTPUT_DIR", ""),
		ReportExtension: e.str("REPORT_EXTENSION", ".docx"),

		RecipientTable: e.int("RECIPIENT_TABLE", 1),
		RecipientRow:   e.int("RECIPIENT_ROW", 7),
		RecipientField: e.str("RECIPIENT_FIELD", ""),

		SMTPHost:     e.str("SMTP_HOST", ""),
		SMTPPort:     e.int("SMTP_PORT", 587),
		SMTPUser:     e.str("SMTP_USER", ""),
		SMTPPass:     e.str("SMTP_PASS", ""),
		SMTPFromName: e.str("SMTP_FROM_NAME", ""),
		SMTPTLS:      strings.ToLower(e.str("SMTP_TLS", "starttls")),
		EmailSubject: e.str("EMAIL_SUBJECT", DefaultSubject),
		EmailBody:    e.str("EMAIL_BODY", DefaultBody),

		StopOnError:     e.bool("STOP_ON_ERROR", false),
		RequestTimeout:  e.duration("REQUEST_TIMEOUT", 5*time.Minute),
		GenerateTimeout: e.duration("GENERATE_TIMEOUT", 10*time.Minute),

		LedgerPath:      e.str("LEDGER_PATH", ""),
		MetricsTextfile: e.str("METRICS_TEXTFILE", ""),
		SecretsKey:      e.str("SECRETS_KEY", ""),
	}

	cfg.SMTPFromEmail = e.str("SMTP_FROM_EMAIL", cfg.SMTPUser)
	if cfg.Owner == "" {
		cfg.Owner = cfg.Username
	}
	cfg.LogFile = e.str("LOG_FILE", "")
	if cfg.LogFile == "" && cfg.OutputDir != "" {
		cfg.LogFile = filepath.Join(cfg.OutputDir, DefaultLogName)
	}
	if !strings.HasPrefix(cfg.ReportExtension, ".") {
		cfg.ReportExtension = "." + cfg.ReportExtension
	}

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.openSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	namedUser := c.Username != "" && c.Password != ""
	appLogin := c.ClientID != "" && c.ClientSecret != ""
	if !namedUser && !appLogin {
		return fmt.Errorf("ARCGIS_USERNAME/ARCGIS_PASSWORD or ARCGIS_CLIENT_ID/ARCGIS_CLIENT_SECRET are required")
	}
	if !namedUser && c.Owner == "" {
		return fmt.Errorf("ARCGIS_OWNER is required when using app credentials")
	}
	if c.SMTPUser != "" && c.SMTPPass == "" {
		return fmt.Errorf("SMTP_PASS is required when SMTP_USER is set")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// UsesAppCredentials reports whether the portal login uses the OAuth2
// client-credentials grant instead of a named user.
func (c *Config) UsesAppCredentials() bool {
	return c.Username == "" && c.ClientID != ""
}

func (c *Config) openSecrets() error {
	fields := []*string{&c.Password, &c.ClientSecret, &c.SMTPPass}

	sealed := false
	for _, f := range fields {
		if crypto.IsSealed(*f) {
			sealed = true
		}
	}
	if !sealed {
		return nil
	}

	crypter, err := crypto.FromPassphrase(c.SecretsKey)
	if err != nil {
		return err
	}
	for _, f := range fields {
		v, err := crypter.Open(*f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}

type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e *env) int(key string, fallback int) int {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return i
}

func (e *env) bool(key string, fallback bool) bool {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return b
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return d
}

func (e *env) fail(key, value string, err error) {
	slog.Error("invalid environment variable", "key", key, "value", value)
	e.err = errors.Join(e.err, fmt.Errorf("%s: %w", key, err))
}
