package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/auth"
	"github.com/neboloop/nexus/internal/config"
	"github.com/neboloop/nexus/internal/crashlog"
	"github.com/neboloop/nexus/internal/credential"
	"github.com/neboloop/nexus/internal/db"
	"github.com/neboloop/nexus/internal/defaults"
	"github.com/neboloop/nexus/internal/dispatch"
	"github.com/neboloop/nexus/internal/lifecycle"
	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/settings"
)

type ServiceContext struct {
	Config config.Config

	DB       *db.Store
	Settings settings.Store
	Sessions *db.SessionManager
	Accounts *auth.Manager

	Web        *ai.WebClient
	Dispatcher *dispatch.Manager
	Lifecycle  *lifecycle.Manager

	ownsDB bool
}

// NewServiceContext creates a new service context. Pass a *db.Store to reuse
// an existing database connection, or nil to open the configured one.
func NewServiceContext(c config.Config, database ...*db.Store) (*ServiceContext, error) {
	var db0 *db.Store
	if len(database) > 0 {
		db0 = database[0]
	}
	return newServiceContext(c, db0)
}

func newServiceContext(c config.Config, database *db.Store) (*ServiceContext, error) {
	svc := &ServiceContext{Config: c}

	if database != nil {
		svc.DB = database
		logging.Debug("Using shared database connection")
	} else {
		if err := defaults.EnsureDir(c.DataDir); err != nil {
			logging.Warnf("Failed to prepare data directory: %v", err)
		}
		var err error
		database, err = db.NewSQLite(c.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		svc.DB = database
		svc.ownsDB = true
	}

	key, err := credential.ResolveKey(c.DataDir, c.Keyring.Enabled)
	if err != nil {
		logging.Warnf("[Credential] Encryption key not configured, secrets stay in plaintext: %v", err)
	}
	credential.Init(key)
	if key != nil {
		// Encrypt any plaintext secrets written before a key existed
		if err := credential.Migrate(context.Background(), svc.DB.GetDB()); err != nil {
			logging.Errorf("[Credential] Migration failed: %v", err)
		}
	}

	svc.Settings = settings.NewSQLStore(svc.DB.GetDB())
	svc.Sessions = db.NewSessionManager(svc.DB)
	crashlog.Init(svc.DB.GetDB())
	svc.Accounts = auth.NewManager(svc.Settings, nil)

	svc.Web = ai.NewWebClient(ai.WebConfig{
		BaseURL:   c.Web.BaseURL,
		UploadURL: c.Web.UploadURL,
		UserAgent: c.Web.UserAgent,
		Timeout:   c.Web.Timeout,
		Cookies:   svc.Accounts.Cookie,
	})
	svc.Accounts.SetFetcher(svc.Web)

	svc.Dispatcher = dispatch.NewManager(dispatch.Options{
		Settings: svc.Settings,
		History:  svc.Sessions,
		Auth:     svc.Accounts,
		Adapters: dispatch.Adapters{
			Authenticated: ai.NewGeminiProvider(c.Gemini.BaseURL, c.Gemini.Timeout),
			OpenAI:        ai.NewOpenAIProvider(),
			Anthropic:     ai.NewAnthropicProvider(),
			Web:           svc.Web,
		},
		Locale:      c.Locale,
		BackoffUnit: c.Retry.BackoffUnit,
	})
	logging.Debug("Dispatcher initialized")

	svc.Lifecycle = lifecycle.NewManager()
	svc.Lifecycle.OnShutdown(func() {
		if svc.Dispatcher.CancelCurrentRequest() {
			logging.Infof("[Server] Cancelled in-flight ask for shutdown")
		}
	})
	svc.Lifecycle.OnAskComplete(func(d lifecycle.AskEventData) {
		logging.Debugf("[Ask] %s in %s (model=%q session=%q)", d.Status, d.Duration.Round(time.Millisecond), d.Model, d.SessionID)
	})

	return svc, nil
}

func (svc *ServiceContext) Close() {
	if svc.DB != nil && svc.ownsDB {
		svc.DB.Close()
		logging.Debug("SQLite database connection closed")
	}
}
