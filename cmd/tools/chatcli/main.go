// Package main provides chatcli, a terminal client for the chat engine.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/eray/backend/internal/app"
	"github.com/zhouzirui/eray/backend/internal/config"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

var (
	services *app.App
	admin    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chatcli",
		Short:        "Chat with the blog assistant from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}
			services, err = app.New(cmd.Context(), cfg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if services != nil {
				services.Close()
			}
		},
	}
	rootCmd.PersistentFlags().BoolVar(&admin, "admin", false, "Use the admin scope")

	rootCmd.AddCommand(sessionsCmd(), modelsCmd(), articlesCmd(), askCmd())
	return rootCmd
}

func scope() chat.Scope {
	if admin {
		return chat.ScopeAdmin
	}
	return chat.ScopePublic
}
