package main

import (
	"fmt"
	"os"

	"github.com/ignatij/agentkernel/internal/cli"
	"github.com/ignatij/agentkernel/internal/http"
	"github.com/ignatij/agentkernel/internal/log"
	internal_storage "github.com/ignatij/agentkernel/internal/storage"
	"github.com/ignatij/agentkernel/pkg/replay"
	"github.com/ignatij/agentkernel/pkg/service"
	"github.com/ignatij/agentkernel/pkg/tool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "agentkernel"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentkernel HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.GetLogger().Debugf("No .env file found: %v", err)
		}

		dbConnStr, _ := cmd.Flags().GetString("db")
		if dbConnStr == "" {
			dbConnStr = os.Getenv("DATABASE_URL")
		}
		if dbConnStr == "" {
			fmt.Println("Error: --db flag or DATABASE_URL required")
			os.Exit(1)
		}
		port, _ := cmd.Flags().GetString("port")

		store, err := internal_storage.InitStore(dbConnStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		registry := tool.NewRegistry()
		svc := service.NewKernelService(store, registry, log.GetLogger())
		rep := replay.NewEngine(store, registry)
		if err := http.StartServer(port, svc, rep); err != nil {
			log.GetLogger().Errorf("Server failed: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
