package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"chatrelay/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the relay setup",
		Long: `Verifies that the configuration loads, a webhook URL is set and resolvable,
and the listen ports are free. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

type doctor struct {
	out                    io.Writer
	passed, failed, warned int
}

func (d *doctor) pass(check, detail string) {
	fmt.Fprintf(d.out, "  [PASS] %-20s %s\n", check, detail)
	d.passed++
}

func (d *doctor) fail(check, detail string) {
	fmt.Fprintf(d.out, "  [FAIL] %-20s %s\n", check, detail)
	d.failed++
}

func (d *doctor) warn(check, detail string) {
	fmt.Fprintf(d.out, "  [WARN] %-20s %s\n", check, detail)
	d.warned++
}

func runDoctor(ctx context.Context, out io.Writer) error {
	d := &doctor{out: out}
	fmt.Fprintf(out, "chatrelay doctor v%s\n", version)
	fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	// 1. Config file is optional; the environment alone is enough.
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err != nil {
		d.warn("Config file", fmt.Sprintf("not found at %s (using defaults and environment)", cfgPath))
	} else {
		d.pass("Config file", cfgPath)
	}

	// 2. Effective config resolves and validates
	cfg, err := loadConfig()
	if err != nil {
		d.fail("Config validation", err.Error())
		return d.summary()
	}
	d.pass("Config validation", "valid")

	// 3. Webhook URL
	if cfg.Relay.WebhookURL == "" {
		d.fail("Webhook URL", fmt.Sprintf("not configured (set %s)", config.EnvWebhookURL))
	} else {
		masked := config.Sanitize(cfg).Relay.WebhookURL
		d.pass("Webhook URL", masked)
		if err := checkResolve(ctx, cfg.Relay.WebhookURL); err != nil {
			d.warn("Webhook DNS", err.Error())
		} else {
			d.pass("Webhook DNS", "host resolves")
		}
	}

	// 4. Size limits
	d.pass("Body limits", fmt.Sprintf("request %s, webhook reply %s",
		humanize.IBytes(uint64(cfg.Relay.MaxBodyBytes)), humanize.IBytes(uint64(cfg.Relay.MaxResponseBytes))))

	// 5. Ports
	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	if err := checkPort(addr); err != nil {
		d.warn("Relay port", fmt.Sprintf("%s may be in use: %v", addr, err))
	} else {
		d.pass("Relay port", addr+" available")
	}
	if cfg.Metrics.Enabled {
		if err := checkPort(cfg.Metrics.Addr); err != nil {
			d.warn("Metrics port", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
		} else {
			d.pass("Metrics port", cfg.Metrics.Addr+" available")
		}
	}

	// 6. Log file directory
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			d.pass("Log file", cfg.Log.File)
		}
	}

	return d.summary()
}

func (d *doctor) summary() error {
	fmt.Fprintf(d.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(d.out, "Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	if d.failed > 0 {
		fmt.Fprintf(d.out, "\nPlease fix the failed checks before running chatrelay.\n")
		return fmt.Errorf("%d check(s) failed", d.failed)
	}
	if d.warned > 0 {
		fmt.Fprintf(d.out, "\nchatrelay should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(d.out, "\nAll checks passed! chatrelay is ready to run.\n")
	}
	return nil
}

func checkResolve(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("cannot parse: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := net.DefaultResolver.LookupHost(ctx, u.Hostname()); err != nil {
		return fmt.Errorf("cannot resolve %s: %w", u.Hostname(), err)
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
