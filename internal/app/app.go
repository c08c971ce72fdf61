package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cvc-go/internal/config"
	"cvc-go/internal/cvc"
	"cvc-go/internal/database"
	"cvc-go/internal/encryption"
	"cvc-go/internal/lock"
	"cvc-go/internal/vault"
)

// snapshotName is the vault metadata name of the database snapshot.
const snapshotName = "db"

// CVCApp is the application layer between the CLI and CVCService.
// It constructs all dependencies from config, resolves branch references
// given on the command line, journals mutating operations and snapshots
// the database to the vault on Close.
type CVCApp struct {
	cfg       *config.Config
	db        database.Database
	vault     cvc.Vault // nil when no vault is configured
	encryptor cvc.Encryptor
	locker    cvc.Locker
	service   *cvc.CVCService
	clock     cvc.Clock
	logger    cvc.Logger
	op        *Operation
	logCloser io.Closer
}

// Options adjusts how NewCVCApp builds the app.
type Options struct {
	// LogLevel is the minimum level written to stderr and the log file.
	LogLevel slog.Level
}

// NewCVCApp creates a fully wired CVCApp from the given config.
// operation identifies the CLI command being run (e.g. "CheckoutNewVersion").
// The caller must call Close when done.
func NewCVCApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*CVCApp, error) {
	clock := cvc.RealClock{}
	startedAt := clock.Now()

	opID := startedAt.Format("20060102T150405Z")
	slogger, logCloser, err := newLogger(cfg.LogDir, cfg.Log, opID, opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &CVCApp{
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		op:        NewOperation(operation, startedAt),
		logCloser: logCloser,
	}
	if err := a.init(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *CVCApp) init(ctx context.Context) error {
	cfg := a.cfg

	db, err := database.NewDatabaseFromConfig(ctx, cfg.Database, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	if cfg.Database.AutoMigrate {
		if err := db.MigrateUp(); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
	}
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	if len(cfg.Vaults) > 0 {
		v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v

		if !enc.IsConfigured() {
			return fmt.Errorf("a vault is configured but encryption keys are missing: run `cvc config init`")
		}
		if err := a.checkSnapshotVersion(ctx); err != nil {
			return err
		}
	}

	locker, err := lock.NewLockerFromConfig(cfg.Locking, a.logger)
	if err != nil {
		return fmt.Errorf("creating locker: %w", err)
	}
	a.locker = locker

	retries := cfg.History.MaxCheckoutRetries
	if retries == 0 {
		retries = cvc.DefaultMaxCheckoutRetries
	}
	a.service = cvc.NewCVCService(db, locker, a.logger, a.clock, cvc.UUIDGenerator{}, cvc.Options{
		MaxAncestryDepth:   cfg.History.MaxAncestryDepth,
		MaxCheckoutRetries: retries,
		ProtectMainBranch:  cfg.History.ProtectMainBranch,
	})
	return nil
}

// checkSnapshotVersion refuses to run against a local database that is
// older than the newest snapshot in the vault.
func (a *CVCApp) checkSnapshotVersion(ctx context.Context) error {
	remoteVersion, err := a.vault.GetMetadataVersion(a.cfg.InstanceID, snapshotName)
	if err != nil {
		return fmt.Errorf("checking remote snapshot version: %w", err)
	}

	localMax, err := a.db.MaxOperationID(ctx)
	if err != nil {
		return fmt.Errorf("checking local journal version: %w", err)
	}

	if remoteVersion > localMax {
		return fmt.Errorf("local database is behind the vault snapshot (local=%d, remote=%d): run `cvc snapshot restore`", localMax, remoteVersion)
	}
	return nil
}

// persistOperation saves the operation to the journal, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *CVCApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(ctx, a.op.Operation, parameters, a.op.StartedAt)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// mutate journals the operation and runs fn, marking the operation failed
// if fn fails.
func (a *CVCApp) mutate(ctx context.Context, parameters string, fn func() error) error {
	if err := a.persistOperation(ctx, parameters); err != nil {
		return err
	}
	if err := fn(); err != nil {
		a.op.Fail()
		return err
	}
	return nil
}

// ParseContentItem parses "type/id". The id may itself contain slashes.
func ParseContentItem(s string) (cvc.ContentItem, error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok || typ == "" || id == "" {
		return cvc.ContentItem{}, cvc.NewError(cvc.ErrInvalidContentItem, "content item %q must look like type/id", s)
	}
	return cvc.ContentItem{Type: typ, ID: id}, nil
}

// ResolveBranch finds a branch by ID or, within item, by name. Active
// branches win over deleted ones; among deleted branches with the same name
// the most recently created wins. A zero item only accepts IDs.
func (a *CVCApp) ResolveBranch(ctx context.Context, item cvc.ContentItem, ref string) (*cvc.Branch, error) {
	if !item.IsZero() {
		branch, err := a.service.FindBranch(ctx, item, ref)
		if err == nil {
			return branch, nil
		}
		if !errors.Is(err, cvc.ErrBranchNotFound) && !errors.Is(err, cvc.ErrInvalidName) {
			return nil, err
		}

		if name, nerr := cvc.NormalizeBranchName(ref); nerr == nil {
			all, err := a.service.ListBranches(ctx, item, true)
			if err != nil {
				return nil, err
			}
			for i := len(all) - 1; i >= 0; i-- {
				if all[i].Name == name {
					return all[i], nil
				}
			}
		}
	}

	branch, err := a.service.GetBranch(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !item.IsZero() && branch.ContentItem != item {
		return nil, cvc.NewError(cvc.ErrBranchNotFound, "branch %s belongs to %s, not %s", ref, branch.ContentItem, item)
	}
	return branch, nil
}

// CreateMainBranch creates the root commit and main branch of an item.
func (a *CVCApp) CreateMainBranch(ctx context.Context, item cvc.ContentItem, authorID string) (*cvc.Branch, error) {
	var branch *cvc.Branch
	err := a.mutate(ctx, "item="+item.String(), func() error {
		var err error
		branch, err = a.service.CreateMainBranch(ctx, item, authorID)
		return err
	})
	return branch, err
}

// CreateFeatureBranch forks a feature branch from sourceRef.
func (a *CVCApp) CreateFeatureBranch(ctx context.Context, item cvc.ContentItem, name, sourceRef string) (*cvc.Branch, error) {
	var branch *cvc.Branch
	err := a.mutate(ctx, fmt.Sprintf("item=%s name=%s from=%s", item, name, sourceRef), func() error {
		source, err := a.ResolveBranch(ctx, item, sourceRef)
		if err != nil {
			return err
		}
		branch, err = a.service.CreateFeatureBranch(ctx, name, source.ID)
		return err
	})
	return branch, err
}

// DeleteBranch soft-deletes a branch.
func (a *CVCApp) DeleteBranch(ctx context.Context, item cvc.ContentItem, ref string) (*cvc.Branch, error) {
	var branch *cvc.Branch
	err := a.mutate(ctx, fmt.Sprintf("item=%s branch=%s", item, ref), func() error {
		target, err := a.ResolveBranch(ctx, item, ref)
		if err != nil {
			return err
		}
		branch, err = a.service.DeleteBranch(ctx, target.ID)
		return err
	})
	return branch, err
}

// RestoreBranch reactivates a soft-deleted branch.
func (a *CVCApp) RestoreBranch(ctx context.Context, item cvc.ContentItem, ref string) (*cvc.Branch, error) {
	var branch *cvc.Branch
	err := a.mutate(ctx, fmt.Sprintf("item=%s branch=%s", item, ref), func() error {
		target, err := a.ResolveBranch(ctx, item, ref)
		if err != nil {
			return err
		}
		branch, err = a.service.RestoreBranch(ctx, target.ID)
		return err
	})
	return branch, err
}

// CheckoutRequest is a CheckoutNewVersion call with a branch reference
// instead of an ID.
type CheckoutRequest struct {
	Item           cvc.ContentItem
	BranchRef      string
	Payload        []byte
	Message        string
	AuthorID       string
	ExpectedHeadID string
}

// CheckoutNewVersion records a new version on a branch.
func (a *CVCApp) CheckoutNewVersion(ctx context.Context, req CheckoutRequest) (*cvc.Commit, error) {
	var commit *cvc.Commit
	err := a.mutate(ctx, fmt.Sprintf("item=%s branch=%s bytes=%d", req.Item, req.BranchRef, len(req.Payload)), func() error {
		branch, err := a.ResolveBranch(ctx, req.Item, req.BranchRef)
		if err != nil {
			return err
		}
		commit, err = a.service.CheckoutNewVersion(ctx, cvc.CheckoutRequest{
			BranchID:       branch.ID,
			Payload:        req.Payload,
			Message:        req.Message,
			AuthorID:       req.AuthorID,
			ExpectedHeadID: req.ExpectedHeadID,
		})
		return err
	})
	return commit, err
}

// DivergenceInfo compares two branches.
func (a *CVCApp) DivergenceInfo(ctx context.Context, item cvc.ContentItem, refA, refB string) (*cvc.Divergence, error) {
	branchA, err := a.ResolveBranch(ctx, item, refA)
	if err != nil {
		return nil, err
	}
	branchB, err := a.ResolveBranch(ctx, item, refB)
	if err != nil {
		return nil, err
	}
	return a.service.DivergenceInfo(ctx, branchA.ID, branchB.ID)
}

// ActivitySummary summarizes a branch's history.
func (a *CVCApp) ActivitySummary(ctx context.Context, item cvc.ContentItem, ref string) (*cvc.ActivitySummary, error) {
	branch, err := a.ResolveBranch(ctx, item, ref)
	if err != nil {
		return nil, err
	}
	return a.service.ActivitySummary(ctx, branch.ID)
}

// History returns a branch's commits, newest first.
func (a *CVCApp) History(ctx context.Context, item cvc.ContentItem, ref string, limit int) ([]*cvc.Commit, error) {
	branch, err := a.ResolveBranch(ctx, item, ref)
	if err != nil {
		return nil, err
	}
	return a.service.History(ctx, branch.ID, limit)
}

// VerifyBranch checks a branch's history for structural damage.
func (a *CVCApp) VerifyBranch(ctx context.Context, item cvc.ContentItem, ref string) (*cvc.Branch, error) {
	branch, err := a.ResolveBranch(ctx, item, ref)
	if err != nil {
		return nil, err
	}
	return branch, a.service.VerifyBranch(ctx, branch.ID)
}

// ListBranches lists an item's branches.
func (a *CVCApp) ListBranches(ctx context.Context, item cvc.ContentItem, includeDeleted bool) ([]*cvc.Branch, error) {
	return a.service.ListBranches(ctx, item, includeDeleted)
}

// GetCommit returns a commit with its payload.
func (a *CVCApp) GetCommit(ctx context.Context, commitID string) (*cvc.Commit, error) {
	return a.service.GetCommit(ctx, commitID)
}

// Operations returns the most recent journal entries.
func (a *CVCApp) Operations(ctx context.Context, limit int) ([]*cvc.Operation, error) {
	return a.db.ListOperations(ctx, limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the journal entry, snapshots the
// database and uploads it to the vault. Otherwise it just closes.
func (a *CVCApp) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := a.db.FinishOperation(ctx, a.op.ID, a.op.Status, a.clock.Now()); err != nil {
			record(fmt.Errorf("finishing operation: %w", err))
		}
		if a.vault != nil {
			record(a.uploadSnapshot())
		}
	}

	record(a.closeResources())
	return firstErr
}

func (a *CVCApp) closeResources() error {
	var firstErr error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if c, ok := a.locker.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing locker: %w", err)
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}
