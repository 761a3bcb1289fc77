// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the triage tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Mailbox providers.
const (
	MailboxGmail = "gmail"
	MailboxGraph = "graph"
	MailboxIMAP  = "imap"
	MailboxLocal = "local"
)

// Reply providers.
const (
	RepliesNone    = "none"
	RepliesMailbox = "mailbox"
	RepliesSES     = "ses"
	RepliesStdout  = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	Roster  RosterConfig  `yaml:"roster"`
	Mailbox MailboxConfig `yaml:"mailbox"`
	Gmail   GmailConfig   `yaml:"gmail"`
	Graph   GraphConfig   `yaml:"graph"`
	IMAP    IMAPConfig    `yaml:"imap"`
	Local   LocalConfig   `yaml:"local"`
	Replies RepliesConfig `yaml:"replies"`
	SES     SESConfig     `yaml:"ses"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`

	Reviewers []string `yaml:"reviewers" validate:"unique,dive,required"`
	Workers   int      `yaml:"workers" validate:"min=1,max=64"`
	Timezone  string   `yaml:"timezone" validate:"required"`
}

// RosterConfig locates the student roster.
type RosterConfig struct {
	File     string `yaml:"file" validate:"required"`
	Encoding string `yaml:"encoding" validate:"oneof=utf-8 latin1 windows-1252"`
}

// MailboxConfig selects where submissions are read from.
type MailboxConfig struct {
	Provider string `yaml:"provider" validate:"oneof=gmail graph imap local"`
}

// GmailConfig holds the installed-app OAuth files.
type GmailConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	User            string `yaml:"user"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Mailbox      string `yaml:"mailbox"`
}

// IMAPConfig holds the IMAP account submissions arrive in.
type IMAPConfig struct {
	Address  string `yaml:"address" validate:"omitempty,hostname_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Folder   string `yaml:"folder"`
}

// LocalConfig points at a directory of .eml files.
type LocalConfig struct {
	Dir string `yaml:"dir"`
}

// RepliesConfig selects how results are sent back to students.
type RepliesConfig struct {
	Provider string `yaml:"provider" validate:"oneof=none mailbox ses stdout"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender" validate:"omitempty,email"`
}

// OutputConfig holds where reports and extracted submissions go.
type OutputConfig struct {
	Dir string `yaml:"dir" validate:"required"`

	// QuarantineDir is relative to Dir unless absolute.
	QuarantineDir string `yaml:"quarantine_dir"`
}

// QuarantinePath returns the directory suspicious payloads are copied to.
func (o OutputConfig) QuarantinePath() string {
	if o.QuarantineDir == "" || filepath.IsAbs(o.QuarantineDir) {
		return o.QuarantineDir
	}
	return filepath.Join(o.Dir, o.QuarantineDir)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GraphConfigured returns true if all four Graph API settings are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Mailbox != ""
}

// SESConfigured returns true if the SES region and sender are set.
// Access keys are optional; the default AWS credential chain is used
// when they are absent.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// Location returns the time zone operator dates are entered in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their YAML key.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(providerStructValidation, Config{})
	return v
}

// providerStructValidation checks the settings each selected provider
// needs. The Graph client secret and the IMAP password may be left
// empty: they are asked for at startup.
func providerStructValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)

	switch c.Mailbox.Provider {
	case MailboxGraph:
		if c.Graph.TenantID == "" || c.Graph.ClientID == "" || c.Graph.Mailbox == "" {
			sl.ReportError(c.Graph, "graph", "Graph", "graph_required", "")
		}
	case MailboxGmail:
		if c.Gmail.CredentialsFile == "" || c.Gmail.TokenFile == "" {
			sl.ReportError(c.Gmail, "gmail", "Gmail", "gmail_required", "")
		}
	case MailboxIMAP:
		if c.IMAP.Address == "" || c.IMAP.Username == "" {
			sl.ReportError(c.IMAP, "imap", "IMAP", "imap_required", "")
		}
	case MailboxLocal:
		if c.Local.Dir == "" {
			sl.ReportError(c.Local.Dir, "dir", "Dir", "required", "")
		}
	}

	switch c.Replies.Provider {
	case RepliesSES:
		if !c.SESConfigured() {
			sl.ReportError(c.SES, "ses", "SES", "ses_required", "")
		}
	case RepliesMailbox:
		if c.Mailbox.Provider == MailboxLocal || c.Mailbox.Provider == MailboxIMAP {
			sl.ReportError(c.Replies.Provider, "provider", "Provider", "mailbox_cannot_send", "")
		}
	}
}

// Validate checks the configuration for values the tool cannot run with.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Roster.File = "alumnos.csv"
	c.Roster.Encoding = "utf-8"
	c.Mailbox.Provider = MailboxLocal
	c.Gmail.CredentialsFile = "credentials.json"
	c.Gmail.TokenFile = "token.json"
	c.Gmail.User = "me"
	c.IMAP.Folder = "INBOX"
	c.Local.Dir = "inbox"
	c.Replies.Provider = RepliesNone
	c.Output.Dir = "."
	c.Output.QuarantineDir = "cuarentena"
	c.Workers = 4
	c.Timezone = "America/Argentina/Buenos_Aires"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	str := map[string]*string{
		"ROSTER_FILE":            &c.Roster.File,
		"GMAIL_CREDENTIALS_FILE": &c.Gmail.CredentialsFile,
		"GMAIL_TOKEN_FILE":       &c.Gmail.TokenFile,
		"GMAIL_USER":             &c.Gmail.User,
		"GRAPH_TENANT_ID":        &c.Graph.TenantID,
		"GRAPH_CLIENT_ID":        &c.Graph.ClientID,
		"GRAPH_CLIENT_SECRET":    &c.Graph.ClientSecret,
		"GRAPH_MAILBOX":          &c.Graph.Mailbox,
		"IMAP_ADDRESS":           &c.IMAP.Address,
		"IMAP_USERNAME":          &c.IMAP.Username,
		"IMAP_PASSWORD":          &c.IMAP.Password,
		"IMAP_FOLDER":            &c.IMAP.Folder,
		"LOCAL_MAIL_DIR":         &c.Local.Dir,
		"SES_REGION":             &c.SES.Region,
		"SES_ACCESS_KEY_ID":      &c.SES.AccessKeyID,
		"SES_SECRET_ACCESS_KEY":  &c.SES.SecretAccessKey,
		"SES_SENDER":             &c.SES.Sender,
		"OUTPUT_DIR":             &c.Output.Dir,
		"QUARANTINE_DIR":         &c.Output.QuarantineDir,
		"TZ_NAME":                &c.Timezone,
	}
	for env, field := range str {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}

	lower := map[string]*string{
		"ROSTER_ENCODING":  &c.Roster.Encoding,
		"MAILBOX_PROVIDER": &c.Mailbox.Provider,
		"REPLY_PROVIDER":   &c.Replies.Provider,
		"LOG_LEVEL":        &c.Logging.Level,
	}
	for env, field := range lower {
		if v := os.Getenv(env); v != "" {
			*field = strings.ToLower(v)
		}
	}

	if v := os.Getenv("REVIEWERS"); v != "" {
		c.Reviewers = splitList(v)
	}

	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WORKERS %q: %w", v, err)
		}
		c.Workers = n
	}
	return nil
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
