package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-incidents/internal/api"
	"github.com/joeblew999/plat-incidents/internal/layers"
	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/prefs"
	"github.com/joeblew999/plat-incidents/internal/server"
	"github.com/joeblew999/plat-incidents/internal/service"
)

// Options defines all CLI flags and env vars for the incidents server.
// Flags: --host, --port, --data-dir, --web-dir, --db-driver, --dsn, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_DSN, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir      string `doc:"Directory for boundary, snapshot and database files" default:".data"`
	WebDir       string `doc:"Path to web/ directory" default:"web"`
	FragmentsDir string `doc:"Directory overriding the embedded popup fragments"`
	StyleFile    string `doc:"YAML file with country layer style options"`
	DBDriver     string `doc:"Incident database driver (duckdb or postgres)" default:"duckdb"`
	DSN          string `doc:"Incident database DSN"`
	Nonce        string `doc:"Nonce required in X-WP-Nonce on country and incident routes"`
	Tolerance    string `doc:"Boundary simplification tolerance in degrees" default:"0.05"`
	RedisAddr    string `doc:"Redis address for preferences (file store when empty)"`
	RedisPass    string `doc:"Redis password"`
	RedisDB      int    `doc:"Redis database" default:"0"`
}

func serverConfig(opts *Options) server.Config {
	tol, err := strconv.ParseFloat(opts.Tolerance, 64)
	if err != nil {
		logger.L().Warn("invalid_tolerance", "value", opts.Tolerance, "err", err)
		tol = service.DefaultTolerance
	}
	return server.Config{
		Host:         opts.Host,
		Port:         fmt.Sprintf("%d", opts.Port),
		DataDir:      opts.DataDir,
		WebDir:       opts.WebDir,
		FragmentsDir: opts.FragmentsDir,
		DBDriver:     opts.DBDriver,
		DSN:          opts.DSN,
		Nonce:        opts.Nonce,
		Tolerance:    tol,
		RedisAddr:    opts.RedisAddr,
		RedisPass:    opts.RedisPass,
		RedisDB:      opts.RedisDB,
	}
}

func newServer(opts *Options) *server.Server {
	return server.New(serverConfig(opts))
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	logger.Setup()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		srv := newServer(opts)

		hooks.OnStart(func() {
			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-incidents API server starting...\n")
			fmt.Printf("  Server:   %s\n", baseURL)
			fmt.Printf("  Data:     %s\n", opts.DataDir)
			fmt.Printf("  Database: %s\n", opts.DBDriver)
			fmt.Println()
			fmt.Printf("  Snapshot: %s/static/countries.json\n", baseURL)
			fmt.Printf("  Docs:     %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI:  %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics:  %s/metrics\n", baseURL)
			fmt.Println()

			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			srv.Close()
		})
	})

	cli.Root().Use = "geo"
	cli.Root().Short = "Incident map backend: country boundaries, incident summaries and preferences"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// export subcommand: regenerate static/countries.json without serving
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Simplify the boundary file and write the static countries snapshot",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := serverConfig(opts)
			countries := service.NewCountryService(cfg.DataDir, cfg.Tolerance)
			if err := countries.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", countries.SourcePath(), err)
				os.Exit(1)
			}
			stamp, err := countries.Export()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Exported %d countries to %s (last_updated %s)\n",
				len(countries.List()), countries.StaticPath(), stamp)
		}),
	}
	cli.Root().AddCommand(exportCmd)

	// simulate subcommand: drive a headless page against a running server
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Load a headless incident map page against a server and toggle country layers",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			so := simulateOptions{Nonce: opts.Nonce, StyleFile: opts.StyleFile}
			so.BaseURL, _ = cmd.Flags().GetString("url")
			so.Show, _ = cmd.Flags().GetString("show")
			so.Click, _ = cmd.Flags().GetString("click")
			so.Timeout, _ = cmd.Flags().GetDuration("timeout")
			if opts.RedisAddr != "" {
				if rc := prefs.OpenRedis(opts.RedisAddr, opts.RedisPass, opts.RedisDB); rc != nil {
					so.Prefs = prefs.NewRedis(rc)
				}
			}
			if local, _ := cmd.Flags().GetBool("local-prefs"); local && so.Prefs == nil {
				so.Prefs = prefs.NewFile(opts.DataDir)
			}

			ctx, cancel := context.WithTimeout(context.Background(), so.Timeout)
			defer cancel()
			if err := simulate(ctx, so, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	simulateCmd.Flags().String("url", "http://localhost:8086", "Base URL of the incidents server")
	simulateCmd.Flags().String("show", "", "Toggle country layers to on or off after loading")
	simulateCmd.Flags().String("click", "", "Country id, slug or ISO code to click once layers are shown")
	simulateCmd.Flags().Bool("local-prefs", false, "Keep preferences in the data dir instead of on the server")
	simulateCmd.Flags().Duration("timeout", 30*time.Second, "Overall simulation timeout")
	cli.Root().AddCommand(simulateCmd)

	// Style file check, handy before pointing a page at it.
	styleCmd := &cobra.Command{
		Use:   "style",
		Short: "Print the resolved country layer style (YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			style, err := layers.LoadStyleFile(opts.StyleFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading style: %v\n", err)
				os.Exit(1)
			}
			out, err := yaml.Marshal(style)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling style: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(string(out))
		}),
	}
	cli.Root().AddCommand(styleCmd)

	cli.Run()
}
