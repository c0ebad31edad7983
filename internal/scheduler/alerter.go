package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/repo"
)

// DefaultScope is the alert-state key for the model catalog.
const DefaultScope = "catalog"

// maxListed caps how many failing models an alert names.
const maxListed = 10

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	Scope           string
}

type Alerter struct {
	alertDB  repo.AlertStore
	notifier interface {
		Send(context.Context, string, string) error
	}
	cfg AlerterConfig
	log *zap.Logger
	now func() time.Time

	// mu spans the read and write of the alert state.
	mu sync.Mutex
}

func NewAlerter(
	alertDB repo.AlertStore,
	notifier interface {
		Send(context.Context, string, string) error
	},
	cfg AlerterConfig,
	log *zap.Logger,
) *Alerter {
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		alertDB:  alertDB,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Observe compares a finished run's aggregate status with the last one
// recorded and notifies on a change. Cancelled, failed and unfinished runs
// are ignored. It reports whether a notification was sent.
func (a *Alerter) Observe(ctx context.Context, run domain.BatchRun) (bool, error) {
	if run.Cancelled || run.Error != "" || run.InProgress || run.Status == domain.StatusChecking {
		return false, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, err := a.alertDB.Get(ctx, a.cfg.Scope)
	if err != nil {
		return false, fmt.Errorf("alert state: %w", err)
	}
	now := a.now()

	// A first healthy observation is a baseline, not a recovery.
	changed := rec == nil && run.Status != domain.StatusHealthy ||
		rec != nil && rec.LastStatus != run.Status

	// Cooldown only matters for problem alerts (suppresses noisy flapping).
	cooled := true
	if rec != nil && rec.LastSentAt != nil {
		cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
	}

	healthy := run.Status == domain.StatusHealthy
	problemAlert := changed && !healthy && cooled
	recoveryAlert := changed && healthy && a.cfg.AlertOnRecovery // bypass cooldown

	if problemAlert || recoveryAlert {
		title, text := message(run)
		sendErr := a.notifier.Send(ctx, title, text)
		if sendErr != nil {
			a.log.Warn("alert_send_failed", zap.String("run_id", run.ID), zap.Error(sendErr))
		} else {
			a.log.Info("alert_sent", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
		}
		// Record the attempt either way so a broken channel does not retry every sweep.
		if err := a.alertDB.Set(ctx, a.cfg.Scope, run.Status, now); err != nil {
			return sendErr == nil, fmt.Errorf("alert state: %w", err)
		}
		return sendErr == nil, sendErr
	}

	// The status changed but we did not send (within cooldown or recovery
	// alerts disabled); still record it without a send time.
	if changed || rec == nil {
		if err := a.alertDB.Set(ctx, a.cfg.Scope, run.Status, time.Time{}); err != nil {
			return false, fmt.Errorf("alert state: %w", err)
		}
	}
	return false, nil
}

func message(run domain.BatchRun) (title, text string) {
	icon := "🔴"
	switch run.Status {
	case domain.StatusHealthy:
		icon = "🟢"
	case domain.StatusDegraded:
		icon = "🟠"
	}
	title = icon + " " + run.Status.Banner()

	var failing []string
	for _, o := range run.Outcomes {
		if o.State == domain.StateFailure {
			failing = append(failing, fmt.Sprintf("%s (%s)", o.Service.ID, o.Error))
		}
	}
	if len(failing) > maxListed {
		failing = append(failing[:maxListed], fmt.Sprintf("and %d more", len(failing)-maxListed))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Models: %d/%d responding\n", run.Succeeded, run.Total)
	if len(failing) > 0 {
		fmt.Fprintf(&b, "Failing: %s\n", strings.Join(failing, ", "))
	}
	fmt.Fprintf(&b, "Run: %s", run.ID)
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, "\nChecked: %s", run.FinishedAt.Format(time.RFC3339))
	}
	return title, b.String()
}
