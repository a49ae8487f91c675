// Package setup asks for the mailbox and model settings on first run.
package setup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/replypacer/internal/model"
)

// Result is what the form collected. Secrets are returned separately so
// the caller can put them in the keyring instead of the config file.
type Result struct {
	Config       *model.AppConfig
	MailPassword string
	ClaudeAPIKey string
}

// values are the form fields as strings, bound to huh inputs.
type values struct {
	address     string
	displayName string
	username    string
	password    string

	imapHost string
	imapPort string
	imapTLS  bool

	smtpHost     string
	smtpPort     string
	smtpSecurity string

	aiEnabled bool
	apiKey    string

	hoursStart string
	hoursEnd   string
	workers    string
}

func valuesFrom(cfg *model.AppConfig) *values {
	return &values{
		address:      cfg.Mail.Address,
		displayName:  cfg.Mail.DisplayName,
		username:     cfg.Mail.Username,
		imapHost:     cfg.Mail.IMAP.Host,
		imapPort:     cfg.Mail.IMAP.Port,
		imapTLS:      cfg.Mail.IMAP.TLS,
		smtpHost:     cfg.Mail.SMTP.Host,
		smtpPort:     cfg.Mail.SMTP.Port,
		smtpSecurity: cfg.Mail.SMTP.Security,
		aiEnabled:    cfg.AI.Enabled,
		hoursStart:   strconv.Itoa(cfg.Schedule.BusinessHoursStart),
		hoursEnd:     strconv.Itoa(cfg.Schedule.BusinessHoursEnd),
		workers:      strconv.Itoa(cfg.Schedule.Workers),
	}
}

// apply copies the form values onto a copy of cfg.
func (v *values) apply(cfg *model.AppConfig) (*model.AppConfig, error) {
	out := *cfg
	out.Mail.Address = strings.TrimSpace(v.address)
	out.Mail.DisplayName = strings.TrimSpace(v.displayName)
	out.Mail.Username = strings.TrimSpace(v.username)
	if out.Mail.Username == "" {
		out.Mail.Username = out.Mail.Address
	}
	out.Mail.IMAP.Host = strings.TrimSpace(v.imapHost)
	out.Mail.IMAP.Port = strings.TrimSpace(v.imapPort)
	out.Mail.IMAP.TLS = v.imapTLS
	out.Mail.SMTP.Host = strings.TrimSpace(v.smtpHost)
	out.Mail.SMTP.Port = strings.TrimSpace(v.smtpPort)
	out.Mail.SMTP.Security = v.smtpSecurity
	out.AI.Enabled = v.aiEnabled

	var err error
	if out.Schedule.BusinessHoursStart, err = parseHour(v.hoursStart); err != nil {
		return nil, fmt.Errorf("business hours start: %w", err)
	}
	if out.Schedule.BusinessHoursEnd, err = parseHour(v.hoursEnd); err != nil {
		return nil, fmt.Errorf("business hours end: %w", err)
	}
	if out.Schedule.BusinessHoursEnd <= out.Schedule.BusinessHoursStart {
		return nil, fmt.Errorf("business hours must end after they start")
	}
	if out.Schedule.Workers, err = strconv.Atoi(strings.TrimSpace(v.workers)); err != nil || out.Schedule.Workers < 1 {
		return nil, fmt.Errorf("workers must be a positive number")
	}
	return &out, nil
}

// Run shows the setup form prefilled from current and returns the
// updated configuration. It returns huh.ErrUserAborted when cancelled.
func Run(current *model.AppConfig) (*Result, error) {
	v := valuesFrom(current)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("replypacer setup").
				Description("Mailbox identity. The password is stored in the system keyring."),
			huh.NewInput().
				Title("Address").
				Description("Mailbox replies are sent from").
				Placeholder("you@example.com").
				Value(&v.address).
				Validate(validateAddress),
			huh.NewInput().
				Title("Display name").
				Description("Name shown in the From header").
				Value(&v.displayName),
			huh.NewInput().
				Title("Username").
				Description("IMAP/SMTP login (defaults to the address)").
				Value(&v.username),
			huh.NewInput().
				Title("Password").
				Description("Account password or app password").
				EchoMode(huh.EchoModePassword).
				Value(&v.password).
				Validate(validateRequired("Password")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Placeholder("imap.example.com").
				Value(&v.imapHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Placeholder("993").
				Value(&v.imapPort).
				Validate(validatePort),
			huh.NewConfirm().
				Title("IMAP implicit TLS").
				Description("No means STARTTLS").
				Affirmative("Yes").
				Negative("No").
				Value(&v.imapTLS),
			huh.NewInput().
				Title("SMTP Host").
				Placeholder("smtp.example.com").
				Value(&v.smtpHost).
				Validate(validateRequired("SMTP Host")),
			huh.NewInput().
				Title("SMTP Port").
				Placeholder("465").
				Value(&v.smtpPort).
				Validate(validatePort),
			huh.NewSelect[string]().
				Title("SMTP security").
				Options(
					huh.NewOption("Implicit TLS (465)", "tls"),
					huh.NewOption("STARTTLS (587)", "starttls"),
					huh.NewOption("None (local relay only)", "none"),
				).
				Value(&v.smtpSecurity),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Use Claude for timing and drafting").
				Description("Without it, a heuristic delay and templates are used").
				Value(&v.aiEnabled),
			huh.NewInput().
				Title("Claude API key").
				Description("Leave empty to keep the stored key or use ANTHROPIC_API_KEY").
				EchoMode(huh.EchoModePassword).
				Value(&v.apiKey),
			huh.NewInput().
				Title("Business hours start").
				Value(&v.hoursStart).
				Validate(validateHour),
			huh.NewInput().
				Title("Business hours end").
				Value(&v.hoursEnd).
				Validate(validateHour),
			huh.NewInput().
				Title("Dispatch workers").
				Value(&v.workers).
				Validate(validatePort),
		),
	)

	if err := form.Run(); err != nil {
		return nil, err
	}

	cfg, err := v.apply(current)
	if err != nil {
		return nil, err
	}
	return &Result{
		Config:       cfg,
		MailPassword: v.password,
		ClaudeAPIKey: strings.TrimSpace(v.apiKey),
	}, nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return fmt.Errorf("enter a full email address")
	}
	return nil
}

func validatePort(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("a number is required")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("must be a number")
		}
	}
	return nil
}

func validateHour(s string) error {
	_, err := parseHour(s)
	return err
}

func parseHour(s string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("hour must be between 0 and 24")
	}
	return h, nil
}
