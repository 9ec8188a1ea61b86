// Package migrate upgrades the decrypted vault schema between
// revisions. All migrations are local SQL over the unlocked vault
// database; nothing here touches the network.
//
// The schema revision lives inside the vault itself, in the Settings
// table under the vault_migration_number key, so it travels with the
// encrypted blob across devices.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aliasvault/client-go/dbx"
)

const (
	revisionKey = "vault_migration_number"
	versionKey  = "vault_version"
)

// ErrUnknownRevision is returned when an upgrade targets a revision the
// client has no scripts for, or starts from one newer than it knows.
// The usual cause is an outdated client meeting a newer vault.
var ErrUnknownRevision = errors.New("migrate: unknown schema revision")

// MigrationError reports which upgrade step failed. The transaction is
// already rolled back by the time the caller sees it; the vault is
// untouched.
type MigrationError struct {
	Step        int // 1-based index of the failed script within the plan
	Total       int
	FromVersion string
	ToVersion   string
	Err         error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate: step %d/%d (%s -> %s): %v",
		e.Step, e.Total, e.FromVersion, e.ToVersion, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Plan is an ordered set of scripts taking the vault from one revision
// to another. An empty plan is a valid no-op.
type Plan struct {
	FromRevision int
	ToRevision   int
	Scripts      []Script
}

// Empty reports whether the plan has nothing to do.
func (p *Plan) Empty() bool { return len(p.Scripts) == 0 }

// LatestRevision is the newest schema revision this client understands.
func LatestRevision() int {
	return scripts[len(scripts)-1].ToRevision
}

// LatestVersion is the version label of the latest revision.
func LatestVersion() string {
	return scripts[len(scripts)-1].Version
}

// PlanUpgrade computes the script sequence from one revision to another.
// Equal revisions yield an empty successful plan. A from-revision newer
// than to, or either side outside the known history, is an error; this
// client cannot downgrade a vault or understand a future one.
func PlanUpgrade(from, to int) (*Plan, error) {
	if from == to {
		if from < 0 || to > LatestRevision() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownRevision, from)
		}
		return &Plan{FromRevision: from, ToRevision: to}, nil
	}
	if from > to {
		return nil, fmt.Errorf("%w: cannot downgrade %d -> %d", ErrUnknownRevision, from, to)
	}
	if from < 0 || to > LatestRevision() {
		return nil, fmt.Errorf("%w: %d -> %d", ErrUnknownRevision, from, to)
	}

	plan := &Plan{FromRevision: from, ToRevision: to}
	for _, s := range scripts {
		if s.FromRevision >= from && s.ToRevision <= to {
			plan.Scripts = append(plan.Scripts, s)
		}
	}
	return plan, nil
}

// CreatePlan is the plan building a fresh vault at the latest revision.
func CreatePlan() *Plan {
	plan, _ := PlanUpgrade(0, LatestRevision())
	return plan
}

// ApplyUpgrade runs the plan inside a single transaction and records the
// new revision in the Settings table. On any failure everything rolls
// back and a *MigrationError identifies the failed step; the vault stays
// at the plan's from-revision.
func ApplyUpgrade(ctx context.Context, db *sql.DB, plan *Plan) error {
	if plan.Empty() {
		return nil
	}

	total := len(plan.Scripts)
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for i, script := range plan.Scripts {
			for _, stmt := range script.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return &MigrationError{
						Step:        i + 1,
						Total:       total,
						FromVersion: revisionVersion(script.FromRevision),
						ToVersion:   script.Version,
						Err:         err,
					}
				}
			}
		}
		return recordRevision(ctx, tx, plan.ToRevision)
	})
}

// CurrentRevision reads the vault's schema revision. A vault without a
// Settings table (or without the tracking row) reports revision 0.
func CurrentRevision(ctx context.Context, q dbx.DBTX) (int, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'Settings'`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("migrate: inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var rev int
	err = q.QueryRowContext(ctx,
		`SELECT "Value" FROM "Settings" WHERE "Key" = ? LIMIT 1`, revisionKey,
	).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrate: read revision: %w", err)
	}
	return rev, nil
}

// settingsRevision is the revision that introduced the Settings table.
// Older schemas have nowhere to record a revision.
const settingsRevision = 4

func recordRevision(ctx context.Context, tx dbx.DBTX, revision int) error {
	if revision < settingsRevision {
		return nil
	}

	// IsDeleted is omitted on purpose: the column only exists from
	// revision 7 on and defaults to 0 there.
	upsert := `INSERT INTO "Settings" ("Key", "Value", "CreatedAt", "UpdatedAt")
VALUES (?, ?, datetime('now'), datetime('now'))
ON CONFLICT("Key") DO UPDATE SET "Value" = excluded."Value", "UpdatedAt" = excluded."UpdatedAt"`

	if _, err := tx.ExecContext(ctx, upsert, revisionKey, fmt.Sprint(revision)); err != nil {
		return fmt.Errorf("migrate: record revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, versionKey, revisionVersion(revision)); err != nil {
		return fmt.Errorf("migrate: record version: %w", err)
	}
	return nil
}

func revisionVersion(revision int) string {
	for _, s := range scripts {
		if s.ToRevision == revision {
			return s.Version
		}
	}
	return "0.0.0"
}
