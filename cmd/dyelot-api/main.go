package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/config"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/importer"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/server"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/webhooks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dyelot-api",
		Short: "Dyelot commerce sync backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newIssueTokenCommand(),
		newImportCommand(),
		newIntegrationCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Operator token signing secret (overrides env)")
	flags.Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Operator token TTL in minutes")
	flags.String("shopify-api-version", defaults.GetString("shopify.api_version"), "Shopify Admin API version")
	flags.String("shopify-webhook-secret", "", "Shared secret for webhook signatures (overrides env)")
	flags.Int("shopify-max-retries", defaults.GetInt("shopify.max_retries"), "Retries per Admin API call")
	flags.Float64("shopify-requests-per-second", defaults.GetFloat64("shopify.requests_per_second"), "Admin API request pacing, 0 disables")
	flags.String("redis-address", "", "Redis address for webhook delivery dedupe")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "shopify.api_version", "shopify-api-version")
	bindFlag(cmd, "shopify.webhook_secret", "shopify-webhook-secret")
	bindFlag(cmd, "shopify.max_retries", "shopify-max-retries")
	bindFlag(cmd, "shopify.requests_per_second", "shopify-requests-per-second")
	bindFlag(cmd, "redis.address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// bootstrap loads configuration and the logger shared by every subcommand.
func bootstrap() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		Audience:      appConfig.AuthAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if err := appConfig.RequireWebhookSecret(); err != nil {
		return err
	}

	app, err := newApplication(appConfig, logger)
	if err != nil {
		return err
	}
	defer app.close()

	tokens, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}
	processor, closeLedger, err := app.webhookProcessor(ctx, appConfig)
	if err != nil {
		return err
	}
	defer closeLedger()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokens,
		Integrations:   app.integrations,
		Sync:           app.sync,
		Importer:       app.importer,
		Webhooks:       processor,
		Verifier:       webhooks.NewVerifier(appConfig.Shopify.WebhookSecret),
		Realtime:       app.realtime,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newIssueTokenCommand() *cobra.Command {
	var subject, accountID string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an operator token scoped to one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			tokens, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := tokens.Issue(subject, accountID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"access_token": token,
				"expires_in":   expiresIn,
				"token_type":   "Bearer",
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Operator identifier")
	cmd.Flags().StringVar(&accountID, "account", "", "Account the token may act on")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newImportCommand() *cobra.Command {
	var integrationID, path string
	cmd := &cobra.Command{
		Use:       "import [products|orders]",
		Short:     "Import a CSV export into the catalog",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"products", "orders"},
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			return withApplication(func(app *application) error {
				var result importer.Result
				var err error
				switch args[0] {
				case "products":
					result, err = app.importer.ImportProducts(cmd.Context(), integrationID, file)
				case "orders":
					result, err = app.importer.ImportOrders(cmd.Context(), integrationID, file)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().StringVar(&integrationID, "integration", "", "Integration the export came from")
	cmd.Flags().StringVar(&path, "file", "", "Path to the CSV file")
	_ = cmd.MarkFlagRequired("integration")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newIntegrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration",
		Short: "Manage store connections",
	}

	var accountID, shopDomain, accessToken string
	create := &cobra.Command{
		Use:   "create",
		Short: "Connect a Shopify store to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(app *application) error {
				connection, err := app.integrations.Create(cmd.Context(), integration.CreateRequest{
					AccountID:   accountID,
					Kind:        integration.KindShopify,
					ShopDomain:  shopDomain,
					AccessToken: accessToken,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"id":          connection.ID,
					"account_id":  connection.AccountID,
					"shop_domain": connection.ShopDomain,
				})
			})
		},
	}
	create.Flags().StringVar(&accountID, "account", "", "Owning account")
	create.Flags().StringVar(&shopDomain, "shop", "", "Shop domain, e.g. dye-house.myshopify.com")
	create.Flags().StringVar(&accessToken, "access-token", "", "Admin API access token")
	_ = create.MarkFlagRequired("account")
	_ = create.MarkFlagRequired("shop")
	_ = create.MarkFlagRequired("access-token")

	deactivate := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Stop syncing a store connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(app *application) error {
				return app.integrations.Deactivate(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(create, deactivate)
	return cmd
}

func withApplication(run func(app *application) error) error {
	appConfig, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	app, err := newApplication(appConfig, logger)
	if err != nil {
		return err
	}
	defer app.close()
	return run(app)
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
