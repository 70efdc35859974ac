package main

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sia-project/analyst/internal/config"
	"github.com/sia-project/analyst/internal/logging"
	"github.com/sia-project/analyst/internal/mcp"
	"github.com/sia-project/analyst/internal/stubserver"
)

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the document tools to an MCP client over stdio",
	Long: `Serve list_documents, upload_document, delete_document and ask over
stdio. Credentials come from --email (or ANALYST_EMAIL) and ANALYST_PASSWORD;
without them every tool reports that nobody is signed in.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.signInFromEnv(cmd); err != nil {
			return err
		}
		return mcp.ServeStdio(mcp.NewServer(c.app, version, c.logger))
	},
}

// --- stub-server ---

var stubServerCmd = &cobra.Command{
	Use:   "stub-server",
	Short: "Run a local stand-in for the backend and identity provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Stub.Port
		}
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if !cmd.Flags().Changed("data-dir") {
			dataDir = cfg.Stub.DataDir
		}
		return runStubServer(cmd, cfg, port, dataDir)
	},
}

func init() {
	stubServerCmd.Flags().Int("port", 8080, "listen port (default from stub.port)")
	stubServerCmd.Flags().String("data-dir", "", "database directory, or :memory: (default from stub.data_dir)")
}

func runStubServer(cmd *cobra.Command, cfg config.Config, port int, dataDir string) error {
	logger, err := logging.New(logging.Options{File: cfg.Log.File, Level: cfg.Log.Level, Console: true})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logger.Sync()

	srv, err := stubserver.New(stubserver.Config{
		DataDir: dataDir,
		APIKey:  cfg.Identity.APIKey,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", port, err)
	}
	base := "http://" + ln.Addr().String()

	printSuccess("stub backend listening on %s", base)
	printStatus("Data dir", "%s", dataDir)
	printStep("point the client at it with:")
	emit(fmt.Sprintf("    analyst config set backend.url %s", base))
	emit(fmt.Sprintf("    analyst config set identity.auth_url %s/v1", base))
	emit(fmt.Sprintf("    analyst config set identity.token_url %s/v1", base))

	if err := srv.Serve(cmd.Context(), ln); err != nil {
		return err
	}
	emit("shutting down...")
	return nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and backend reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(cfg.Backend.URL + "/")
	if err != nil {
		printStatus("Backend", "not reachable at %s", cfg.Backend.URL)
	} else {
		resp.Body.Close()
		printStatus("Backend", "reachable at %s (HTTP %d)", cfg.Backend.URL, resp.StatusCode)
	}

	printStatus("Identity", "%s", cfg.Identity.AuthURL)
	if cfg.RequireIdentity() == nil {
		printStatus("API key", "configured")
	} else {
		printStatus("API key", "missing")
	}
	printStatus("Log file", "%s", cfg.Log.File)
	if cfg.Tracing.Enabled {
		printStatus("Tracing", "exporting to %s", cfg.Tracing.Endpoint)
	} else {
		printStatus("Tracing", "off")
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(bold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret such as identity.api_key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSetSecretCmd)
}
