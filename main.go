package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/clock"
	"github.com/lotas/plfolders/internal/config"
	"github.com/lotas/plfolders/internal/dom"
	"github.com/lotas/plfolders/internal/export"
	"github.com/lotas/plfolders/internal/folders"
	"github.com/lotas/plfolders/internal/server"
	"github.com/lotas/plfolders/internal/session"
	"github.com/lotas/plfolders/internal/storage"
	"github.com/lotas/plfolders/internal/tui"
	"github.com/spf13/cobra"
)

// App carries what every command needs once flags are parsed.
type App struct {
	cfg   *config.Config
	db    *sql.DB
	store *folders.Store
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "plfolders",
		Short:        "Sort your playlists into folders",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Run the bridge and the interactive TUI
  plfolders

  # Bridge only, for use with the extension popup
  plfolders serve

  # Back up and restore folders
  plfolders export --out folders.json
  plfolders import folders.json
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), app)
		},
	}
	config.BindFlags(cmd.PersistentFlags())

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.open(cmd)
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		app.close()
		return nil
	}

	cmd.AddCommand(serveCmd(app), exportCmd(app), importCmd(app), foldersCmd(app))
	return cmd
}

func (a *App) open(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := applog.Init(cfg.Data.Dir); err != nil {
		return fmt.Errorf("init log: %w", err)
	}
	db, err := storage.OpenDB(cfg.Data.DB)
	if err != nil {
		// The store degrades to empty data; commands still run.
		applog.Error("db.open", err, "path", cfg.Data.DB)
		fmt.Fprintf(os.Stderr, "Warning: database unavailable: %v\n", err)
	}
	a.cfg = cfg
	a.db = db
	a.store = folders.New(storage.NewKV(db))
	applog.Info("app.start", "command", cmd.Name(), "db", cfg.Data.DB)
	return nil
}

func (a *App) close() {
	if a.db != nil {
		a.db.Close()
	}
	applog.Close()
}

// engine wires the extension bridge to a session manager.
func (a *App) engine() (*server.Server, *session.Manager, *server.Bridge, error) {
	scanner, err := a.cfg.Scanner()
	if err != nil {
		return nil, nil, nil, err
	}
	srv := server.New(a.cfg.Server.Port)
	page := server.NewRemotePage(srv, a.cfg.Server.RequestTimeout)
	mgr, err := session.NewManager(a.cfg.Host.PagePattern, scanner, a.store, clock.Real{}, a.cfg.SessionOptions(), func() dom.Page {
		page.Reset()
		return page
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("host.page_pattern: %w", err)
	}
	return srv, mgr, server.NewBridge(srv, page, mgr), nil
}

// serve runs the listener and the bridge until ctx ends.
func (a *App) serve(ctx context.Context, srv *server.Server, mgr *session.Manager, bridge *server.Bridge) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe(ctx, server.NewRouter(srv, mgr, a.cfg.Server.Metrics))
	}()
	go bridge.Run(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

func serveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extension bridge without the TUI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, mgr, bridge, err := app.engine()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Listening on 127.0.0.1:%d\n", srv.Port())
			return app.serve(ctx, srv, mgr, bridge)
		},
	}
}

func runTUI(ctx context.Context, app *App) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv, mgr, bridge, err := app.engine()
	if err != nil {
		return err
	}
	go func() {
		if err := app.serve(ctx, srv, mgr, bridge); err != nil {
			applog.Error("server.stop", err)
		}
	}()

	p := tea.NewProgram(tui.NewModel(mgr, srv), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func exportCmd(app *App) *cobra.Command {
	var outFile string
	var markdown bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all folders as JSON (or markdown)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var output string
			if markdown {
				output = export.Markdown(app.store.List(ctx), nil, time.Now())
			} else {
				var err error
				if output, err = app.store.Export(ctx); err != nil {
					return fmt.Errorf("export: %w", err)
				}
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(output), 0644); err != nil {
					return fmt.Errorf("write file: %w", err)
				}
				fmt.Fprintf(os.Stderr, "Wrote %s\n", outFile)
				return nil
			}
			fmt.Print(output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file path (default: stdout)")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "export a markdown listing instead of JSON")
	return cmd
}

func importCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge folders from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			n, err := app.store.Import(cmd.Context(), data)
			if errors.Is(err, export.ErrInvalidImport) {
				return fmt.Errorf("%s is not a valid export: %w", args[0], err)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d folder(s)\n", n)
			return nil
		},
	}
}

func foldersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List folders and their playlist counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := app.store.List(cmd.Context())
			if len(list) == 0 {
				fmt.Println("No folders yet.")
				return nil
			}
			for _, f := range list {
				fmt.Printf("%-30s %4d  %s\n", f.Name, len(f.PlaylistIDs), f.ID)
			}
			return nil
		},
	}
}
