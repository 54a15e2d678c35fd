package export

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/gomail.v2"

	"finnscout/internal/config"
)

// Notify mails the report to the configured recipients. Every path in
// attachments must exist; pass the xlsx and, when useful, the backing CSV.
func Notify(cfg config.SMTPCfg, propertyType string, rowCount int, logger *slog.Logger, attachments ...string) error {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.To) == 0 {
		logger.Debug("no notification recipients configured, skipping email")
		return nil
	}

	m := gomail.NewMessage()
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	m.SetHeader("From", from)
	m.SetHeader("To", cfg.To...)
	m.SetHeader("Subject", fmt.Sprintf("Finn %s report %s (%d listings)",
		propertyType, time.Now().Format("2006-01-02"), rowCount))
	m.SetBody("text/plain", fmt.Sprintf(
		"Attached: %d %s listings matching your filters.\n", rowCount, propertyType))
	for _, path := range attachments {
		m.Attach(path)
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, config.ResolveEnvVars(cfg.Password))
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("sending report email: %w", err)
	}
	logger.Info("report emailed", "recipients", len(cfg.To), "rows", rowCount)
	return nil
}
