package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"hubsync/internal/config"
	"hubsync/internal/database"
	"hubsync/internal/encryption"
	"hubsync/internal/hub"
	"hubsync/internal/model"
	"hubsync/internal/remote"
	"hubsync/internal/sheet"
	"hubsync/internal/vault"
)

// HubApp is the application layer between the CLI and HubService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI input, and releases the store and log file on Close.
type HubApp struct {
	cfg       *config.Config
	store     hub.Store
	vault     hub.Vault
	encryptor hub.Encryptor
	identity  *hub.StaticIdentity
	service   *hub.HubService
	clock     hub.Clock
	logger    hub.Logger
	op        *Operation
	logFile   io.Closer
}

// NewHubApp creates a fully wired HubApp from the given config.
// operation names the CLI command being run (e.g. "ImportSheet", "BackupPush").
// The caller must call Close when done.
func NewHubApp(ctx context.Context, cfg *config.Config, operation, params string) (*HubApp, error) {
	return newHubApp(ctx, cfg, operation, params, os.Stderr)
}

func newHubApp(ctx context.Context, cfg *config.Config, operation, params string, stderr io.Writer) (*HubApp, error) {
	if cfg.Actor.UserID == "" {
		return nil, fmt.Errorf("no actor configured: set actor.user_id or %s", config.EnvActorID)
	}

	clock := hub.Clock(hub.RealClock{})
	op := NewOperation(operation, params, clock)

	slogger, logFile, err := NewLogger(cfg.Log, op.ID, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	identity := &hub.StaticIdentity{UserID: cfg.Actor.UserID, AccessToken: cfg.Actor.AccessToken}

	store, err := openStore(ctx, cfg, identity, logger, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	svc := hub.NewHubService(store, identity, v, enc, logger, clock, hub.UUIDGenerator{}, hub.ServiceOptions{
		Retry: retryPolicy(cfg.Retry),
	})

	logger.Info("operation started", "operation", operation, "params", params, "store", cfg.Store.Type, "actor", cfg.Actor.UserID)

	return &HubApp{
		cfg:       cfg,
		store:     store,
		vault:     v,
		encryptor: enc,
		identity:  identity,
		service:   svc,
		clock:     clock,
		logger:    logger,
		op:        op,
		logFile:   logFile,
	}, nil
}

// openStore builds the configured store. A fresh local store gets the
// configured actor as its first admin.
func openStore(ctx context.Context, cfg *config.Config, identity *hub.StaticIdentity, logger hub.Logger, clock hub.Clock) (hub.Store, error) {
	if cfg.Store.Type == "remote" {
		client, err := remote.NewClient(remote.Options{
			BaseURL:     cfg.Store.URL,
			APIKey:      cfg.Store.APIKey,
			Token:       bearerToken(identity, cfg.Store.APIKey),
			Timeout:     time.Duration(cfg.Store.Timeout) * time.Second,
			RealtimeURL: cfg.Realtime.URL,
			Clock:       clock,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	store, err := database.NewStoreFromConfig(cfg.Store, cfg.Actor.UserID)
	if err != nil {
		return nil, err
	}
	err = store.Bootstrap(ctx, &model.Profile{
		ID:        cfg.Actor.UserID,
		Username:  cfg.Actor.UserID,
		Role:      model.RoleAdmin,
		CreatedAt: clock.Now().UTC(),
	})
	switch {
	case err == nil:
		logger.Info("bootstrapped store", "admin", cfg.Actor.UserID)
	case errors.Is(err, hub.ErrPermission):
		// Already has profiles.
	default:
		store.Close()
		return nil, fmt.Errorf("bootstrapping store: %w", err)
	}
	return store, nil
}

// bearerToken sends the session token when there is one and the API key
// otherwise.
func bearerToken(identity hub.Identity, apiKey string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		sess, err := identity.Session(ctx)
		if err != nil {
			return "", err
		}
		if sess.AccessToken == "" {
			return apiKey, nil
		}
		return sess.AccessToken, nil
	}
}

func retryPolicy(cfg config.RetryConfig) hub.RetryPolicy {
	p := hub.DefaultRetryPolicy()
	if cfg.Attempts > 0 {
		p.Attempts = cfg.Attempts
	}
	if d := cfg.BaseDelay(); d > 0 {
		p.BaseDelay = d
	}
	if d := cfg.MaxDelay(); d > 0 {
		p.MaxDelay = d
	}
	return p
}

// Service exposes the underlying HubService for plain CRUD commands.
func (a *HubApp) Service() *hub.HubService { return a.service }

// Operation returns the operation this app was opened for.
func (a *HubApp) Operation() *Operation { return a.op }

// SetTabs replaces a section's tabs from "id=name[:icon]" specs, in order.
func (a *HubApp) SetTabs(ctx context.Context, sectionID string, specs []string) (bool, error) {
	rows := make([]model.TypeDef, 0, len(specs))
	for _, spec := range specs {
		row, err := parseTabSpec(spec)
		if err != nil {
			return false, err
		}
		rows = append(rows, row)
	}
	return a.service.SaveSectionTypes(ctx, sectionID, rows)
}

func parseTabSpec(spec string) (model.TypeDef, error) {
	id, rest, ok := strings.Cut(spec, "=")
	id = strings.TrimSpace(id)
	if id == "" {
		return model.TypeDef{}, fmt.Errorf("%w: tab spec %q needs an id", hub.ErrValidation, spec)
	}
	if !ok {
		return model.TypeDef{ID: id}, nil
	}
	name, icon, _ := strings.Cut(rest, ":")
	return model.TypeDef{ID: id, Name: strings.TrimSpace(name), Icon: strings.TrimSpace(icon)}, nil
}

// SetSetting stores value as JSON when it parses as JSON and as a string
// otherwise.
func (a *HubApp) SetSetting(ctx context.Context, key, raw string) error {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	return a.service.SetSiteSetting(ctx, key, value)
}

// Export writes the full raw state as indented JSON to w.
func (a *HubApp) Export(ctx context.Context, w io.Writer) (*hub.Snapshot, error) {
	snap, err := a.service.ExportRawState(ctx)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	return snap, nil
}

// ImportFile restores a snapshot document from path.
func (a *HubApp) ImportFile(ctx context.Context, path string, onProgress func(hub.ProgressEvent)) (*hub.ImportSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap hub.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: decoding snapshot %s: %v", hub.ErrValidation, path, err)
	}
	return a.service.ImportRawState(ctx, &snap, hub.ImportOptions{OnProgress: onProgress})
}

// ImportSheet imports an .xlsx workbook or a directory of sheet CSV files.
func (a *HubApp) ImportSheet(ctx context.Context, path string) (*hub.SheetSummary, error) {
	payload, err := sheet.Read(path)
	if err != nil {
		return nil, err
	}
	return a.service.ImportWorkbook(ctx, payload)
}

// BackupPush stores a snapshot of the whole hub in the configured vault.
func (a *HubApp) BackupPush(ctx context.Context) (int64, error) {
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return 0, fmt.Errorf("encryption keys missing: run `hubsync config init`")
	}
	return a.service.BackupToVault(ctx, a.cfg.Vault.Name)
}

// NeedsPassphrase reports whether restoring requires unlocking a key.
func (a *HubApp) NeedsPassphrase() bool { return a.encryptor != nil }

// BackupPull restores a snapshot version from the vault; 0 selects the latest.
func (a *HubApp) BackupPull(ctx context.Context, version int64, passphrase string, onProgress func(hub.ProgressEvent)) (*hub.ImportSummary, error) {
	var dctx hub.DecryptionContext
	if a.encryptor != nil {
		var err error
		if dctx, err = a.encryptor.Unlock(passphrase); err != nil {
			return nil, fmt.Errorf("unlocking key: %w", err)
		}
	}
	return a.service.RestoreFromVault(ctx, a.cfg.Vault.Name, version, dctx, hub.ImportOptions{OnProgress: onProgress})
}

// BackupList lists stored snapshot versions.
func (a *HubApp) BackupList() ([]hub.SnapshotInfo, error) {
	return a.service.ListBackups()
}

// Watch keeps a section's resource list fresh until ctx ends, calling report
// with the resource count after every refresh.
func (a *HubApp) Watch(ctx context.Context, sectionID string, report func(count int)) error {
	section, err := a.service.GetSection(ctx, sectionID)
	if err != nil {
		return err
	}
	if section == nil {
		return fmt.Errorf("section %s: %w", sectionID, hub.ErrNotFound)
	}

	var feed hub.ChangeFeed
	if a.cfg.Realtime.Enabled {
		feed = a.store
	}
	sched := hub.NewRefreshScheduler(feed, hub.RefreshOptions{
		Period:           a.cfg.Refresh.Period(),
		InitialDelay:     a.cfg.Refresh.InitialDelay(),
		ResubscribeDelay: a.cfg.Refresh.ResubscribeDelay(),
		Logger:           a.logger,
	})
	defer sched.Close()

	scope := hub.ViewScope{ID: sectionID, Tables: []string{hub.TableResources, hub.TableSections}}
	err = sched.Open(ctx, scope, func(ctx context.Context) error {
		resources, err := a.service.GetResourcesBySection(ctx, sectionID)
		if err != nil {
			return err
		}
		report(len(resources))
		return nil
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// Close records how the operation ended and releases the store and log file.
// opErr is the error the command finished with, if any.
func (a *HubApp) Close(opErr error) error {
	a.op.Finish(opErr, a.clock)
	if opErr != nil {
		a.logger.Error("operation failed", "operation", a.op.Name, "duration", a.op.Duration(), "error", opErr)
	} else {
		a.logger.Info("operation finished", "operation", a.op.Name, "duration", a.op.Duration())
	}

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}

// SetupEncryption creates the snapshot key pair when the config asks for
// encryption and no keys exist yet. It reports whether keys were created.
func SetupEncryption(cfg config.EncryptionConfig, passphrase string) (bool, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return false, err
	}
	if enc == nil || enc.IsConfigured() {
		return false, nil
	}
	if err := enc.Setup(passphrase); err != nil {
		return false, fmt.Errorf("setting up encryption: %w", err)
	}
	return true, nil
}
