// Package main is the entry point for the fake-online-accounts CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/godbus/dbus/v5"
	"github.com/urfave/cli/v2"

	"github.com/bigknoxy/fake-online-accounts/internal/accounts"
	"github.com/bigknoxy/fake-online-accounts/internal/bus"
	"github.com/bigknoxy/fake-online-accounts/internal/config"
	"github.com/bigknoxy/fake-online-accounts/internal/log"
	"github.com/bigknoxy/fake-online-accounts/internal/manager"
	"github.com/bigknoxy/fake-online-accounts/internal/server"
	"github.com/bigknoxy/fake-online-accounts/internal/service"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// serveFlags returns fresh flag values; the root and the serve command each
// need their own.
func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "bus",
			Usage: "Bus to serve on: session or system",
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "Explicit bus address (overrides --bus)",
		},
		&cli.PathFlag{
			Name:  "accounts",
			Usage: "YAML or JSON file replacing the built-in accounts",
		},
		&cli.BoolFlag{
			Name:  "honor-filters",
			Usage: "Apply serviceId/accountId filters in GetAccounts",
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "fake-online-accounts",
		Version:              Version,
		Usage:                "A fake OnlineAccounts manager for client integration tests",
		EnableBashCompletion: true,
		Flags: append([]cli.Flag{
			&cli.PathFlag{
				Name:        "config",
				Usage:       "Path to config file",
				DefaultText: "~/.fake-online-accounts/config.json",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"vv"},
				Usage:   "Enable verbose logging",
			},
		}, serveFlags()...),
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the manager on the bus until interrupted",
				Flags:  serveFlags(),
				Action: runServe,
			},
			{
				Name:  "accounts",
				Usage: "List the accounts the manager would serve",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:  "accounts",
						Usage: "YAML or JSON file replacing the built-in accounts",
					},
				},
				Action: runAccounts,
			},
			{
				Name:   "introspect",
				Usage:  "Print the manager's introspection XML",
				Action: runIntrospect,
			},
			{
				Name:  "service",
				Usage: "Manage bus activation through a systemd user unit",
				Subcommands: []*cli.Command{
					{
						Name:   "install",
						Usage:  "Install the activation file and user unit",
						Action: runServiceInstall,
					},
					{
						Name:   "uninstall",
						Usage:  "Stop and remove the activation file and user unit",
						Action: runServiceUninstall,
					},
					{
						Name:   "start",
						Usage:  "Start the user unit",
						Action: runServiceStart,
					},
					{
						Name:   "stop",
						Usage:  "Stop the user unit",
						Action: runServiceStop,
					},
					{
						Name:   "status",
						Usage:  "Show installation and unit state",
						Action: runServiceStatus,
					},
				},
			},
		},
		Before: func(c *cli.Context) error {
			config.SetLogger(log.Get())
			if c.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			return log.Close()
		},
	}
}

// loadConfig loads configuration, applies command-line overrides and
// reconfigures the global logger from the result.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.Path("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if v, ok := lookupFlag(c, "bus"); ok {
		cfg.Bus = v.String("bus")
	}
	if v, ok := lookupFlag(c, "address"); ok {
		cfg.Address = v.String("address")
	}
	if v, ok := lookupFlag(c, "accounts"); ok {
		cfg.AccountsFile = v.Path("accounts")
	}
	if v, ok := lookupFlag(c, "honor-filters"); ok {
		cfg.HonorFilters = v.Bool("honor-filters")
	}
	if c.Bool("verbose") {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	loggerCfg := log.DefaultConfig()
	loggerCfg.Level = level
	loggerCfg.JSON = cfg.LogJSON
	loggerCfg.Output = c.App.ErrWriter
	loggerCfg.File = cfg.LogFile
	logger, err := log.NewLogger(loggerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.SetDefault(logger)
	config.SetLogger(logger)

	return cfg, nil
}

// lookupFlag returns the nearest context, from c up to the app, on which
// name was set. Serve flags are accepted both before and after "serve".
func lookupFlag(c *cli.Context, name string) (*cli.Context, bool) {
	for _, ctx := range c.Lineage() {
		if ctx.IsSet(name) {
			return ctx, true
		}
	}
	return nil, false
}

func loadRegistry(cfg *config.Config) (*accounts.Registry, error) {
	list := accounts.DefaultAccounts()
	if cfg.AccountsFile != "" {
		var err error
		list, err = accounts.LoadAccounts(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
	}

	var opts []accounts.Option
	if cfg.HonorFilters {
		opts = append(opts, accounts.WithFilters())
	}
	return accounts.NewRegistry(list, opts...)
}

// setupGracefulShutdown cancels the run context on SIGINT or SIGTERM.
func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn("Received signal, shutting down...", "signal", sig)
		cancel()
	}()
}

// runServe publishes the manager and blocks until interrupted or the bus
// goes away.
func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	m := manager.New(registry, manager.WithCallLog(c.App.Writer))
	srv := server.New(server.Config{
		Bus:        bus.Options{Bus: cfg.Bus, Address: cfg.Address},
		BusName:    cfg.BusName,
		ObjectPath: dbus.ObjectPath(cfg.ObjectPath),
	}, m)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	setupGracefulShutdown(cancel)

	log.Info("Starting fake OnlineAccounts manager",
		"version", Version,
		"accounts", registry.Len(),
		"honor_filters", registry.HonorsFilters(),
	)
	log.Debug("Configuration", "config", cfg.String())

	return srv.Run(ctx)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("206")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// runAccounts prints the registry the serve command would publish.
func runAccounts(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("245"))).
		Headers("ID", "DISPLAY NAME", "SERVICE", "AUTH METHOD").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, a := range registry.ListAccounts(nil) {
		t.Row(strconv.FormatUint(uint64(a.ID), 10), a.DisplayName, a.ServiceID, a.AuthMethod().String())
	}

	fmt.Fprintln(c.App.Writer, t.String())
	return nil
}

func runIntrospect(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	doc, err := manager.IntrospectXML(dbus.ObjectPath(cfg.ObjectPath))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, doc)
	return nil
}

func newServiceManager(c *cli.Context) (service.Manager, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return service.NewManager(service.Config{BusName: cfg.BusName})
}

// runServiceInstall installs the activation file and user unit.
func runServiceInstall(c *cli.Context) error {
	svc, err := newServiceManager(c)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║   Installing fake-online-accounts service ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
	fmt.Fprintln(w)

	result, err := svc.Install(c.Context)
	if err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}

	fmt.Fprintln(w, result.Message)
	for _, f := range result.Files {
		fmt.Fprintf(w, "  %s\n", f)
	}
	if result.LogPath != "" {
		fmt.Fprintf(w, "\nLogs: %s\n", result.LogPath)
	}
	return nil
}

// runServiceUninstall stops the unit and removes both files.
func runServiceUninstall(c *cli.Context) error {
	svc, err := newServiceManager(c)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║  Uninstalling fake-online-accounts service║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
	fmt.Fprintln(w)

	result, err := svc.Uninstall(c.Context)
	if err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}

	fmt.Fprintln(w, result.Message)
	return nil
}

// runServiceStart starts the installed user unit.
func runServiceStart(c *cli.Context) error {
	svc, err := newServiceManager(c)
	if err != nil {
		return err
	}
	if err := svc.Start(c.Context); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	fmt.Fprintln(c.App.Writer, "Service started.")
	return nil
}

// runServiceStop stops the running user unit.
func runServiceStop(c *cli.Context) error {
	svc, err := newServiceManager(c)
	if err != nil {
		return err
	}
	if err := svc.Stop(c.Context); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	fmt.Fprintln(c.App.Writer, "Service stopped.")
	return nil
}

// runServiceStatus reports whether the service is installed and running.
func runServiceStatus(c *cli.Context) error {
	svc, err := newServiceManager(c)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║    fake-online-accounts service status    ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
	fmt.Fprintln(w)

	status, err := svc.Status(c.Context)
	if err != nil {
		fmt.Fprintf(w, "Status: Unable to determine (%v)\n", err)
		return nil
	}

	fmt.Fprintf(w, "Manager:   %s\n", svc.Name())
	fmt.Fprintf(w, "Installed: %s\n", statusBool(status.Installed))
	if status.ExecStart != "" {
		fmt.Fprintf(w, "ExecStart: %s\n", status.ExecStart)
	}
	fmt.Fprintf(w, "Status:    %s\n", status.Status)
	if status.Running {
		fmt.Fprintln(w, "The service is currently running.")
	} else {
		fmt.Fprintln(w, "The service is not running.")
	}
	return nil
}

func statusBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
