package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
)

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models visible to the scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, _ := services.Registry.Default(scope())
			printModels(cmd.OutOrStdout(), services.Registry.List(scope()), def.Key, services.AI.Available)
			return nil
		},
	}
}

func printModels(w io.Writer, models []llm.ModelSpec, defaultKey string, available func(llm.ModelSpec) bool) {
	for _, m := range models {
		marker := " "
		if m.Key == defaultKey {
			marker = "*"
		}
		status := "ready"
		if !available(m) {
			status = "no credentials"
		}
		fmt.Fprintf(w, "%s %-20s %-32s %s\n", marker, m.Key, m.Name, status)
	}
}

func articlesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Manage articles that can be attached to messages",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			articles, err := services.Store.ListArticles(cmd.Context(), !scope().IsAdmin())
			if err != nil {
				return err
			}
			for _, a := range articles {
				state := "draft"
				if a.IsPublished {
					state = "published"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]  %s\n", a.ID, state, a.Title)
			}
			return nil
		},
	}

	// chatcli articles add --title T --file post.md
	var (
		title     string
		summary   string
		file      string
		tags      []string
		published bool
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Import an article from a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			article, err := services.Store.SaveArticle(cmd.Context(), chat.Article{
				Title:       title,
				Summary:     summary,
				Content:     string(content),
				Tags:        tags,
				IsPublished: published,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved: %s\n", article.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&title, "title", "", "Article title")
	addCmd.Flags().StringVar(&summary, "summary", "", "Article summary")
	addCmd.Flags().StringVar(&file, "file", "", "Path to the article body")
	addCmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	addCmd.Flags().BoolVar(&published, "published", false, "Mark the article as published")
	addCmd.MarkFlagRequired("title")
	addCmd.MarkFlagRequired("file")

	cmd.AddCommand(listCmd, addCmd)
	return cmd
}
