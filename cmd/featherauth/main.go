// Command featherauth runs the authorization server and its operational
// subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/featherauth/featherauth/internal/audit"
	"github.com/featherauth/featherauth/internal/cache"
	memcache "github.com/featherauth/featherauth/internal/cache/memory"
	rediscache "github.com/featherauth/featherauth/internal/cache/redis"
	"github.com/featherauth/featherauth/internal/cleanup"
	"github.com/featherauth/featherauth/internal/config"
	"github.com/featherauth/featherauth/internal/email"
	oauthctrl "github.com/featherauth/featherauth/internal/http/controllers/oauth"
	oidcctrl "github.com/featherauth/featherauth/internal/http/controllers/oidc"
	"github.com/featherauth/featherauth/internal/http/router"
	oauthsvc "github.com/featherauth/featherauth/internal/http/services/oauth"
	oidcsvc "github.com/featherauth/featherauth/internal/http/services/oidc"
	jwtx "github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/observability/logger"
	"github.com/featherauth/featherauth/internal/scopes"
	"github.com/featherauth/featherauth/internal/store"
	"github.com/featherauth/featherauth/internal/store/pg"

	// The memory adapter registers itself; pg registers via the named
	// import above.
	_ "github.com/featherauth/featherauth/internal/store/memory"
)

const version = "0.3.0"

func main() {
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:     "featherauth",
		Short:   "Embeddable OAuth 2.0 / OIDC authorization server",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("FEATHERAUTH_CONFIG"), "path to config YAML")

	root.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		keysCmd(&configPath),
		cleanupCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FromEnv(), nil
}

func initLogger(cfg *config.Config) {
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "featherauth",
		Version:     version,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (store.DataAccessLayer, error) {
	return store.Open(ctx, store.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
		ConnMaxLifetime: parseDur(cfg.Storage.Postgres.ConnMaxLifetime),
	})
}

func openCache(cfg *config.Config) cache.Client {
	if cfg.Cache.Kind == "redis" {
		return rediscache.New(cache.Config{
			Kind:     "redis",
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
	}
	return memcache.New(parseDur(cfg.Cache.Memory.DefaultTTL))
}

func buildKeystore(cfg *config.Config, dal store.DataAccessLayer) (*jwtx.Keystore, error) {
	var bootstrap *jwtx.BootstrapKey
	privPEM, err := cfg.BootstrapPrivatePEM()
	if err != nil {
		return nil, err
	}
	pubPEM, err := cfg.BootstrapPublicPEM()
	if err != nil {
		return nil, err
	}
	if privPEM != "" || pubPEM != "" {
		bootstrap = &jwtx.BootstrapKey{
			KID:        cfg.JWT.Bootstrap.KID,
			PrivatePEM: privPEM,
			PublicPEM:  pubPEM,
		}
	}
	return jwtx.NewKeystore(dal.Keys(), bootstrap), nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			defer func() { _ = logger.Sync() }()
			log := logger.Named("serve")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dal, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer dal.Close()

			cc := openCache(cfg)
			defer cc.Close()

			keystore, err := buildKeystore(cfg, dal)
			if err != nil {
				return err
			}
			issuer := jwtx.NewIssuer(cfg.JWT.Issuer, cfg.JWT.Audience, keystore, dal.Tokens(),
				cfg.AccessTTL(), cfg.IDTokenTTL())
			validator := scopes.NewValidator(dal.Scopes())

			var notifier *email.Notifier
			if cfg.Email.Enabled {
				notifier = &email.Notifier{
					Sender: email.NewSMTPSender(cfg.Email.Host, cfg.Email.Port,
						cfg.Email.From, cfg.Email.Username, cfg.Email.Password),
					ServiceName: "FeatherAuth",
				}
			}

			authorizeSvc := oauthsvc.NewAuthorizeService(oauthsvc.AuthorizeDeps{
				DAL:        dal,
				Cache:      cc,
				Validator:  validator,
				Notifier:   notifier,
				CookieName: cfg.Auth.Session.CookieName,
				LoginURL:   cfg.Auth.LoginURL,
				ConsentURL: cfg.Auth.ConsentURL,
				CodeTTL:    cfg.CodeTTL(),
			})
			tokenSvc := oauthsvc.NewTokenService(oauthsvc.TokenDeps{
				DAL:        dal,
				Issuer:     issuer,
				Validator:  validator,
				RefreshTTL: cfg.RefreshTTL(),
			})
			revokeSvc := oauthsvc.NewRevokeService(oauthsvc.RevokeDeps{DAL: dal, Issuer: issuer})
			introspectSvc := oauthsvc.NewIntrospectService(oauthsvc.IntrospectDeps{DAL: dal, Issuer: issuer})
			discoverySvc := oidcsvc.NewDiscoveryService(oidcsvc.DiscoveryDeps{
				DAL: dal, Cache: cc, Issuer: cfg.JWT.Issuer,
			})
			userinfoSvc := oidcsvc.NewUserinfoService(oidcsvc.UserinfoDeps{DAL: dal, Issuer: issuer})

			handler := router.New(router.Deps{
				DAL:       dal,
				Authorize: oauthctrl.NewAuthorizeController(authorizeSvc),
				Tokens:    oauthctrl.NewTokenController(tokenSvc, revokeSvc, introspectSvc),
				Discovery: oidcctrl.NewDiscoveryController(discoverySvc, keystore),
				Userinfo:  oidcctrl.NewUserinfoController(userinfoSvc),
				Metrics:   true,
			})

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("http server listening", logger.String("addr", cfg.Server.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if cfg.Cleanup.Enabled {
				g.Go(func() error {
					err := cleanup.New(dal, cfg.CleanupInterval()).Run(gctx)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate: driver %q has no migrations", cfg.Storage.Driver)
			}
			n, err := pg.MigrateDSN(cmd.Context(), cfg.Storage.DSN)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", n)
			return nil
		},
	}
}

func keysCmd(configPath *string) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
	}

	keys.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a new signing key (not yet primary)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			dal, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer dal.Close()

			key, err := jwtx.GenerateSigningKeyPair()
			if err != nil {
				return err
			}
			if err := dal.Keys().Create(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Printf("generated key %s\n", key.KID)
			return nil
		},
	})

	keys.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Generate a new key and promote it to primary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			dal, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer dal.Close()

			key, err := jwtx.GenerateSigningKeyPair()
			if err != nil {
				return err
			}
			key.IsPrimary = true
			if err := dal.Keys().Create(cmd.Context(), key); err != nil {
				return err
			}
			audit.LogOAuthEvent(cmd.Context(), audit.Event{
				EventType: audit.EventKeyRotated,
				Metadata:  map[string]any{"kid": key.KID},
			})
			fmt.Printf("rotated: %s is now primary\n", key.KID)
			return nil
		},
	})

	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active signing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			dal, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer dal.Close()

			active, err := dal.Keys().ListActive(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KID\tALG\tPRIMARY\tCREATED")
			for _, k := range active {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", k.KID, k.Algorithm, k.IsPrimary,
					k.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	retire := &cobra.Command{
		Use:   "retire <kid>",
		Short: "Deactivate a non-primary key, removing it from JWKS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			dal, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer dal.Close()

			if err := dal.Keys().Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("retired key %s\n", args[0])
			return nil
		},
	}
	keys.AddCommand(retire)

	return keys
}

func cleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg)
			dal, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer dal.Close()

			stats, err := cleanup.New(dal, 0).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed: %d auth codes, %d access tokens, %d refresh tokens, %d auth requests\n",
				stats.AuthCodes, stats.AccessTokens, stats.RefreshTokens, stats.AuthRequests)
			return nil
		},
	}
}

func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
