// Package reconcile drives full reconciliation runs: resolve the root
// authority once, then issue every configured leaf under it, collecting
// a per-identity report of what was reused, regenerated, or rejected.
package reconcile

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcleod/certward/config"
	"github.com/jmcleod/certward/internal/uuid"
	"github.com/jmcleod/certward/journal"
	"github.com/jmcleod/certward/pki"
	"github.com/jmcleod/certward/storage"
)

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// ReportEntry is the decision for one identity.
type ReportEntry struct {
	Name        string
	Outcome     pki.Outcome
	Fingerprint pki.Fingerprint
	Serial      string
	NotAfter    time.Time
	Err         error
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Authority ReportEntry
	Sites     []ReportEntry
}

// Failed reports whether any identity in the run was rejected.
func (r *Report) Failed() bool {
	if r.Authority.Err != nil {
		return true
	}
	for _, site := range r.Sites {
		if site.Err != nil {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

// Driver runs reconciliation against a store. It holds no state between
// runs; re-running with an unchanged configuration is idempotent.
type Driver struct {
	manager *pki.AuthorityManager
	issuer  *pki.LeafIssuer
	logger  zerolog.Logger
	journal *journal.Journal
}

// NewDriver creates a Driver over the given store.
func NewDriver(store storage.Store, policy pki.Policy, logger zerolog.Logger) *Driver {
	return &Driver{
		manager: pki.NewAuthorityManager(store, policy),
		issuer:  pki.NewLeafIssuer(store, policy),
		logger:  logger.With().Str("component", "reconcile").Logger(),
	}
}

// WithJournal attaches a decision journal. Every authority and leaf
// decision is appended to it; a nil journal disables journaling.
func (d *Driver) WithJournal(j *journal.Journal) *Driver {
	d.journal = j
	return d
}

// Run reconciles the full configuration. Defaults are filled in and the
// configuration is validated before any artifact is touched, so an
// invalid configuration produces no files. The authority is resolved
// first; if that fails the run aborts, since every leaf depends on it. A
// failing site does not stop the remaining sites; its failure is
// recorded in the report instead.
func (d *Driver) Run(ctx context.Context, cfg *config.Config) (*Report, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:   uuid.New(),
		Started: time.Now().UTC(),
	}
	logger := d.logger.With().Str("run_id", report.RunID).Logger()

	authSpec := cfg.AuthoritySpec()
	resolution, err := d.manager.Resolve(authSpec)
	if err != nil {
		report.Authority = ReportEntry{Name: authSpec.Name, Outcome: pki.OutcomeRejected, Err: err}
		report.Finished = time.Now().UTC()
		d.record(logger, journal.KindAuthority, report.RunID, report.Authority)
		return report, fmt.Errorf("resolving authority: %w", err)
	}
	defer resolution.Destroy()

	report.Authority = ReportEntry{
		Name:        authSpec.Name,
		Outcome:     resolution.Outcome,
		Fingerprint: resolution.Fingerprint,
		Serial:      hex.EncodeToString(resolution.Certificate.SerialNumber.Bytes()),
		NotAfter:    resolution.Certificate.NotAfter,
	}
	d.record(logger, journal.KindAuthority, report.RunID, report.Authority)

	signing := resolution.Signing()
	for _, spec := range cfg.LeafSpecs() {
		if err := ctx.Err(); err != nil {
			report.Finished = time.Now().UTC()
			return report, err
		}

		entry := ReportEntry{Name: spec.PrimaryName}
		res, err := d.issuer.Issue(spec, signing)
		if err != nil {
			entry.Outcome = pki.OutcomeRejected
			entry.Err = err
		} else {
			entry.Outcome = res.Outcome
			entry.Fingerprint = res.Fingerprint
			entry.Serial = hex.EncodeToString(res.Certificate.SerialNumber.Bytes())
			entry.NotAfter = res.Certificate.NotAfter
		}
		d.record(logger, journal.KindLeaf, report.RunID, entry)
		report.Sites = append(report.Sites, entry)
	}

	report.Finished = time.Now().UTC()
	return report, nil
}

// record logs one decision and appends it to the journal when one is
// attached.
func (d *Driver) record(logger zerolog.Logger, kind journal.EntryKind, runID string, entry ReportEntry) {
	event := logger.Info()
	if entry.Err != nil {
		event = logger.Error().Err(entry.Err)
	}
	event.
		Str("kind", string(kind)).
		Str("name", entry.Name).
		Str("outcome", entry.Outcome.String()).
		Msg("reconciled")

	if d.journal == nil {
		return
	}
	jentry := journal.Entry{
		RunID:       runID,
		Kind:        kind,
		Name:        entry.Name,
		Outcome:     entry.Outcome.String(),
		Fingerprint: string(entry.Fingerprint),
		Serial:      entry.Serial,
		NotAfter:    entry.NotAfter,
	}
	if entry.Err != nil {
		jentry.Error = entry.Err.Error()
	}
	if err := d.journal.Append(jentry); err != nil {
		logger.Warn().Err(err).Msg("appending journal entry")
	}
}
