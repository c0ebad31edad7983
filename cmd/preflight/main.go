// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hamed0406/modelstatus/internal/catalog"
	"github.com/hamed0406/modelstatus/internal/config"
	"github.com/hamed0406/modelstatus/internal/probe"
)

func main() {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg := config.Load()

	if cfg.OpenRouterKey == "" {
		fail("OPENROUTER_API_KEY is empty (every probe will fail with auth).")
	} else {
		ok("OPENROUTER_API_KEY present")
	}

	u, err := url.Parse(cfg.OpenRouterBaseURL)
	if err != nil || u.Hostname() == "" {
		fail("OPENROUTER_BASE_URL is not a valid URL: " + cfg.OpenRouterBaseURL)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		dns := probe.CheckDNS(ctx, u.Hostname())
		cancel()
		if dns.Class != probe.DNSResolves {
			fail(fmt.Sprintf("%s does not resolve (%s) %s", u.Hostname(), dns.Class, dns.ResolverError))
		} else {
			ok("OPENROUTER_BASE_URL host resolves: " + u.Hostname())
		}
	}

	if cfg.ModelsFile != "" {
		models, err := catalog.LoadStatic(cfg.ModelsFile)
		if err != nil {
			fail("MODELS_FILE: " + err.Error())
		} else {
			ok(fmt.Sprintf("MODELS_FILE lists %d models", len(models)))
		}
	}

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty (admin routes are open).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty (read routes are open).")
	}
	// Normalize and sanity-check lists (no spaces inside keys).
	for name, keys := range map[string][]string{"ADMIN_API_KEYS": cfg.AdminAPIKeys, "PUBLIC_API_KEYS": cfg.PublicAPIKeys} {
		for _, k := range keys {
			if strings.ContainsAny(k, " \t") {
				warn(name + " has a key containing whitespace")
			}
		}
	}

	ok("API_ADDR=" + cfg.Addr)
	ok(fmt.Sprintf("probe concurrency=%d timeout=%s retries=%d", cfg.Concurrency, cfg.ProbeTimeout, cfg.MaxRetries))

	if cfg.CheckInterval == 0 {
		warn("CHECK_INTERVAL_MS is 0; scheduled sweeps are disabled.")
	} else {
		ok("CHECK_INTERVAL_MS=" + cfg.CheckInterval.String())
	}

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty; run history is kept in memory only.")
	} else {
		ok("DATABASE_URL present")
	}

	if cfg.SlackWebhook == "" {
		warn("SLACK_WEBHOOK empty; status alerts are only logged.")
	} else {
		ok("SLACK_WEBHOOK present")
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}
