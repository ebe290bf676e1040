package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lmpi-dev/lmpi/internal/audit"
	"github.com/lmpi-dev/lmpi/internal/config"
	"github.com/lmpi-dev/lmpi/internal/creds"
	"github.com/lmpi-dev/lmpi/internal/crypto"
	"github.com/lmpi-dev/lmpi/internal/events"
	"github.com/lmpi-dev/lmpi/internal/models"
	"github.com/lmpi-dev/lmpi/internal/registry"
	"github.com/lmpi-dev/lmpi/internal/services/session"
	"github.com/lmpi-dev/lmpi/internal/services/vault"
	"github.com/lmpi-dev/lmpi/internal/storage"
	"github.com/lmpi-dev/lmpi/internal/testers"
	"github.com/lmpi-dev/lmpi/internal/transport"
)

// Client provides the high-level API for lmpi operations.
type Client struct {
	Session *session.Manager
	Vault   *vault.Store
	Audit   audit.Journal

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
}

// Option configures a Client.
type Option func(*options)

type options struct {
	transport transport.Transport
	journal   audit.Journal
	sessionOp []session.Option
}

// WithTransport replaces the HTTP transport used by testers.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithJournal replaces the audit journal.
func WithJournal(j audit.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithSessionOptions passes extra options to the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.sessionOp = append(o.sessionOp, opts...) }
}

// New creates a new lmpi client.
func New(cfg *config.Config, logger *events.Logger, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, &models.StorageError{Op: "mkdir", Path: cfg.Storage.DataDir, Err: err}
	}

	// Create crypto provider
	cryptoProvider := crypto.NewProvider(cfg.Security.KDFIterations)

	// Create configuration document store
	docs := storage.NewFileStore(cfg.ConfigPath(), storage.Options{
		AtomicWrites: cfg.Storage.AtomicWrites,
	}, logger)

	// Create services
	sessionOpts := append([]session.Option{
		session.WithTTL(cfg.Security.SessionTTL),
		session.WithAtomicWrites(cfg.Storage.AtomicWrites),
	}, o.sessionOp...)

	sessionManager := session.NewManager(session.Paths{
		Salt:    cfg.SaltPath(),
		Session: cfg.SessionPath(),
	}, cryptoProvider, docs, logger, sessionOpts...)

	vaultStore := vault.NewStore(sessionManager, cryptoProvider, docs, logger)

	// Create transport
	transportClient := o.transport
	if transportClient == nil {
		transportClient = transport.NewHTTPClient(&cfg.API, logger)
	}

	// Create audit journal
	journal := o.journal
	if journal == nil {
		journal = audit.NopJournal{}
		if cfg.Audit.Enabled {
			j, err := audit.NewSQLiteJournal(cfg.AuditPath(), logger)
			if err != nil {
				// The journal is optional; the vault works without it
				logger.WithError(err).Warn("Audit journal unavailable")
			} else {
				journal = j
			}
		}
	}

	return &Client{
		Session:   sessionManager,
		Vault:     vaultStore,
		Audit:     journal,
		config:    cfg,
		logger:    logger,
		transport: transportClient,
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Record writes an audit event tagged with the context's request ID. Failures are logged and otherwise ignored.
func (c *Client) Record(ctx context.Context, action, subject string) {
	err := c.Audit.Record(ctx, audit.Event{
		Action:  action,
		Subject: subject,
		Detail:  events.GetRequestID(ctx),
	})
	if err != nil {
		c.logger.WithError(err).WithField("action", action).Warn("Failed to record audit event")
	}
}

// Login starts a session and records the attempt.
func (c *Client) Login(ctx context.Context, password string) error {
	if err := c.Session.Authenticate(password); err != nil {
		if !errors.Is(err, models.ErrPasswordNotSet) {
			c.Record(ctx, audit.ActionLoginFailed, "")
		}
		return err
	}

	c.Record(ctx, audit.ActionLoginSucceeded, "")
	return nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.Session.EndSession(); err != nil {
		return err
	}
	c.Record(ctx, audit.ActionLogout, "")
	return nil
}

// SetPassword establishes a new password, discarding stored entries.
func (c *Client) SetPassword(ctx context.Context, password string) error {
	if err := c.Session.SetPassword(password); err != nil {
		return err
	}
	c.Record(ctx, audit.ActionPasswordSet, "")
	return nil
}

// ChangePassword re-encrypts stored entries under password.
func (c *Client) ChangePassword(ctx context.Context, password string) error {
	if err := c.Vault.ChangePassword(password); err != nil {
		return err
	}
	c.Record(ctx, audit.ActionPasswordChanged, "")
	return nil
}

// SaveAPIKey stores apiKey for company.
func (c *Client) SaveAPIKey(ctx context.Context, company, apiKey string) error {
	if err := c.Vault.SaveAPIKey(company, apiKey); err != nil {
		return err
	}
	c.Record(ctx, audit.ActionAPIKeySaved, company)
	return nil
}

// ImportAPIKeys stores every key of keys with a single write.
func (c *Client) ImportAPIKeys(ctx context.Context, keys map[string]string) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: no API keys to import", models.ErrMissingInput)
	}

	if err := c.Vault.SaveAPIKeys(keys); err != nil {
		return err
	}

	for _, company := range creds.Companies(keys) {
		c.Record(ctx, audit.ActionAPIKeySaved, company)
	}
	return nil
}

// RemoveAPIKey deletes the key for company and reports whether one existed.
func (c *Client) RemoveAPIKey(ctx context.Context, company string) (bool, error) {
	removed, err := c.Vault.RemoveAPIKey(company)
	if err != nil || !removed {
		return removed, err
	}
	c.Record(ctx, audit.ActionAPIKeyRemoved, company)
	return true, nil
}

// SaveConfig merges values into the stored configuration.
func (c *Client) SaveConfig(ctx context.Context, values map[string]interface{}) error {
	if err := c.Vault.Update(values); err != nil {
		return err
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	c.Record(ctx, audit.ActionConfigSaved, strings.Join(names, ","))
	return nil
}

// NewTester builds the tester for model. API models use the key stored for
// their provider; Hugging Face models use one if present.
func (c *Client) NewTester(model string) (testers.Tester, error) {
	entry, ok := registry.Lookup(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidModel, model)
	}

	apiKey, found, err := c.Vault.APIKey(entry.Provider)
	if err != nil {
		return nil, err
	}
	if !found && entry.Category == registry.CategoryAPI {
		return nil, fmt.Errorf("%w: no API key saved for %s", models.ErrMissingInput, entry.Provider)
	}

	return testers.New(entry, apiKey, c.config, c.transport, c.logger)
}

// RunTest sends prompt to model.
func (c *Client) RunTest(ctx context.Context, model, prompt string) (*testers.Result, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt", models.ErrMissingInput)
	}

	tester, err := c.NewTester(model)
	if err != nil {
		return nil, err
	}

	if events.GetOperation(ctx) == "" {
		ctx = events.WithOperation(ctx, "run")
	}
	result, err := tester.Test(ctx, prompt)
	if err != nil {
		return nil, err
	}

	c.Record(ctx, audit.ActionModelTested, model)
	return result, nil
}

// Close releases the transport and the audit journal.
func (c *Client) Close() error {
	return errors.Join(c.transport.Close(), c.Audit.Close())
}
