// Command document-gateway converts uploaded documents to markdown through an
// external conversion engine and re-hosts the extracted images in object
// storage.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/documentgateway/internal/config"
	"github.com/Lllllllleong/documentgateway/internal/services"
)

var (
	v        = viper.New()
	logLevel = new(slog.LevelVar)
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	config.Bind(v)
}

// loadConfig reads the configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logLevel.Set(cfg.LogLevel)
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "document-gateway",
	Short: "Convert documents to markdown and re-host their images",
	Long: `document-gateway accepts documents (PDF, Office formats, images, archives),
hands them to an external conversion engine and returns markdown. When a
document id is supplied, images extracted by the engine are uploaded to object
storage and the markdown image links are rewritten to point at them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		if cfgFile == "" {
			return nil
		}
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ConvertDocument, Health and Info functions over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			v.Set("server.port", port)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Initialize eagerly so warmup starts before the first request.
		if _, err := loadConverter(); err != nil {
			return err
		}
		slog.Info("Starting functions framework.", "port", cfg.Port)
		return funcframework.Start(cfg.Port)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert FILE",
	Short: "Convert one local document and print the markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		documentID, _ := cmd.Flags().GetString("document-id")
		language, _ := cmd.Flags().GetString("language")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		conv, err := services.NewConverter(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		res, err := conv.ConvertFile(cmd.Context(), args[0], documentID, language)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		_, err = fmt.Fprintln(out, res.Content)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file; environment variables take precedence")
	serveCmd.Flags().String("port", "", "port to listen on (default $PORT or 8080)")
	convertCmd.Flags().String("document-id", "", "document id; enables image upload and link rewriting")
	convertCmd.Flags().String("language", "", "document language hint passed to the engine")
	convertCmd.Flags().Bool("json", false, "print the full JSON response instead of markdown")

	rootCmd.AddCommand(serveCmd, convertCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
