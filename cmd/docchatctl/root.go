package main

import (
	"context"
	"fmt"
	"strconv"

	"docchat-go/internal/bootstrap"
	"docchat-go/internal/config"
	"docchat-go/pkg/log"
	"docchat-go/pkg/token"
	"docchat-go/pkg/vectorindex"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	tokenSecret string
)

var rootCmd = &cobra.Command{
	Use:           "docchatctl",
	Short:         "Operate the document chat service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [fileKey]",
	Short: "Ingest an uploaded PDF into the vector index",
	Long: `Fetches the object from storage, splits it into chunks, embeds them
and writes them to the namespace derived from the file key.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var namespaceCmd = &cobra.Command{
	Use:   "namespace [fileKey]",
	Short: "Print the vector index namespace for a file key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(vectorindex.Namespace(args[0]))
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [fileKey] [question]",
	Short: "Print the context assembled for a question",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

var tokenCmd = &cobra.Command{
	Use:   "token [userID] [username]",
	Short: "Issue a bearer token for local testing",
	Args:  cobra.ExactArgs(2),
	RunE:  runToken,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "path to the config file")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (defaults to jwt.secret from the config)")
	rootCmd.AddCommand(ingestCmd, namespaceCmd, queryCmd, tokenCmd)
}

func loadApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, "console", "")
	return bootstrap.New(ctx, cfg)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Processor.Ingest(ctx, args[0])
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	cmd.Printf("namespace: %s\nvectors:   %d\nbatches:   %d\n", result.Namespace, result.Vectors, result.Batches)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	text, err := app.Retriever.Retrieve(ctx, args[1], args[0])
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if text == "" {
		cmd.Println("No qualifying matches.")
		return nil
	}
	cmd.Println(text)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	userID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || userID == 0 {
		return fmt.Errorf("invalid user id %q", args[0])
	}

	secret, hours := tokenSecret, 24
	if secret == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		secret, hours = cfg.JWT.Secret, cfg.JWT.TokenExpireHours
	}
	if secret == "" {
		return fmt.Errorf("no signing secret configured")
	}

	tok, err := token.NewJWTManager(secret, hours).GenerateToken(uint(userID), args[1])
	if err != nil {
		return err
	}
	cmd.Println(tok)
	return nil
}
