package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bjo163/radbill/config"
	"github.com/bjo163/radbill/internal/adminapi"
	"github.com/bjo163/radbill/internal/app"
	"github.com/bjo163/radbill/internal/radiusd"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "radbill",
	Short: "RADIUS authentication, accounting and billing server",
	Long: `RadBill - RADIUS Auth/Accounting server with prepaid and buyout
billing, online session tracking and CoA disconnect.`,
	Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the RADIUS and admin listeners",
	RunE:  runServer,
}

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Drop and recreate all tables with default data",
	RunE:  runInitdb,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin HTTP bearer token for an operator",
	RunE:  runToken,
}

var (
	configFile string
	debug      bool

	listen    string
	authPort  int
	acctPort  int
	adminPort int
	dictFile  string

	operator string
	tokenTTL time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Enable debug logging and packet dumps")

	runCmd.Flags().StringVar(&listen, "listen", "",
		"RADIUS listen address (default from config)")
	runCmd.Flags().IntVar(&authPort, "auth-port", 0,
		"RADIUS authentication port")
	runCmd.Flags().IntVar(&acctPort, "acct-port", 0,
		"RADIUS accounting port")
	runCmd.Flags().IntVar(&adminPort, "admin-port", 0,
		"Admin control channel TCP port")
	runCmd.Flags().StringVar(&dictFile, "dict", "",
		"Extra RADIUS dictionary file")

	tokenCmd.Flags().StringVar(&operator, "operator", "admin",
		"Operator username")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", adminapi.DefaultTokenTTL,
		"Token lifetime")

	rootCmd.AddCommand(runCmd, initdbCmd, tokenCmd)
}

// loadConfig reads the config file; flags that were set take precedence
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.System.Debug = debug
	}
	if flags.Changed("listen") {
		cfg.Radiusd.Host = listen
	}
	if flags.Changed("auth-port") {
		cfg.Radiusd.AuthPort = authPort
	}
	if flags.Changed("acct-port") {
		cfg.Radiusd.AcctPort = acctPort
	}
	if flags.Changed("admin-port") {
		cfg.Admin.Port = adminPort
	}
	if flags.Changed("dict") {
		cfg.Radiusd.Dictionary = dictFile
	}
	return cfg, nil
}

func newApplication(cmd *cobra.Command) (*app.Application, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	application := app.NewApplication(cfg)
	application.InitLogger()
	if err := application.Init(); err != nil {
		return nil, err
	}
	return application, nil
}

func runInitdb(cmd *cobra.Command, _ []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Release()
	if err := application.InitDb(); err != nil {
		return err
	}
	zap.L().Info("database initialized")
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Release()
	opr, err := application.ActiveOperator(operator)
	if err != nil {
		return err
	}
	token, err := adminapi.IssueToken(application.Config().Admin.JwtSecret, opr.Username, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// stopper is anything the run loop shuts down on exit
type stopper interface {
	Shutdown(ctx context.Context) error
}

func runServer(cmd *cobra.Command, _ []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Release()

	cfg := application.Config()
	svc := application.Radius()
	logger := zap.L()
	logger.Info("Starting RadBill", zap.String("version", version), zap.String("commit", commit))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	go svc.Delay.Run(ctx)

	errCh := make(chan error, 4)
	var stoppers []stopper
	start := func(name string, s stopper, serve func() error) {
		stoppers = append(stoppers, s)
		go func() {
			if err := serve(); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if cfg.Radiusd.Enabled {
		host := cfg.Radiusd.Host
		authSrv := &radiusd.Server{
			Name:    "auth",
			Addr:    net.JoinHostPort(host, strconv.Itoa(cfg.Radiusd.AuthPort)),
			Handler: radiusd.NewAuthService(svc),
			Nas:     application.Store(),
		}
		acctSrv := &radiusd.Server{
			Name:    "acct",
			Addr:    net.JoinHostPort(host, strconv.Itoa(cfg.Radiusd.AcctPort)),
			Handler: radiusd.NewAcctService(svc),
			Nas:     application.Store(),
		}
		start("radius auth", authSrv, authSrv.ListenAndServe)
		start("radius acct", acctSrv, acctSrv.ListenAndServe)
	}

	if cfg.Admin.Enabled {
		dispatcher := adminapi.NewDispatcher(svc, application.DB())
		dispatcher.OnDebug = application.SetDebug

		tcpSrv := &adminapi.TCPServer{
			Addr:       net.JoinHostPort(cfg.Admin.Host, strconv.Itoa(cfg.Admin.Port)),
			Dispatcher: dispatcher,
		}
		start("admin tcp", tcpSrv, tcpSrv.ListenAndServe)

		if cfg.Admin.HttpPort > 0 && cfg.Admin.JwtSecret == "" {
			logger.Warn("admin http disabled, admin.jwt_secret is not set")
		} else if cfg.Admin.HttpPort > 0 {
			handler, err := adminapi.NewHTTPHandler(dispatcher, adminapi.HTTPOptions{
				JwtSecret: cfg.Admin.JwtSecret,
				Registry:  metrics.Registry(),
			})
			if err != nil {
				return err
			}
			httpSrv := &adminapi.HTTPServer{
				Addr:    net.JoinHostPort(cfg.Admin.Host, strconv.Itoa(cfg.Admin.HttpPort)),
				Handler: handler,
			}
			start("admin http", httpSrv, httpSrv.ListenAndServe)
		}
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("listener failed", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, s := range stoppers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}
	return err
}
