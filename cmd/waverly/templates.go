package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/waverly/waverly/internal/templates"

	"github.com/spf13/cobra"
)

var (
	flagTemplateNewName     string
	flagTemplateNewSeverity string
	flagTemplateNewMethod   string
	flagTemplateNewPath     string
	flagTemplateNewWords    []string
)

func init() {
	templatesNewCmd.Flags().StringVar(&flagTemplateNewName, "name", "", "template display name (defaults to the id)")
	templatesNewCmd.Flags().StringVar(&flagTemplateNewSeverity, "severity", "info", "finding severity")
	templatesNewCmd.Flags().StringVar(&flagTemplateNewMethod, "method", "GET", "HTTP method of the probe")
	templatesNewCmd.Flags().StringVar(&flagTemplateNewPath, "path", "/", "request path of the probe")
	templatesNewCmd.Flags().StringSliceVar(&flagTemplateNewWords, "word", nil, "response keyword to match, repeatable")

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesShowCmd)
	templatesCmd.AddCommand(templatesNewCmd)
	templatesCmd.AddCommand(templatesImportCmd)
	templatesCmd.AddCommand(templatesDeleteCmd)
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage the local nuclei template store",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates in the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(config.TemplatesDir)
		if err != nil {
			return err
		}
		for _, meta := range store.List() {
			fmt.Printf("%-40s %-10s %s\n", meta.ID, meta.Severity, meta.Name)
		}
		return nil
	},
}

var templatesShowCmd = &cobra.Command{
	Use:   "show id",
	Short: "Print the raw YAML of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(config.TemplatesDir)
		if err != nil {
			return err
		}
		content, err := store.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Print(content)
		if !strings.HasSuffix(content, "\n") {
			fmt.Println()
		}
		return nil
	},
}

var templatesNewCmd = &cobra.Command{
	Use:   "new id",
	Short: "Create a keyword-matching HTTP template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(config.TemplatesDir)
		if err != nil {
			return err
		}
		content, err := templates.Build(args[0], flagTemplateNewName, flagTemplateNewSeverity,
			flagTemplateNewMethod, flagTemplateNewPath, flagTemplateNewWords)
		if err != nil {
			return err
		}
		meta, err := store.Create(content)
		if err != nil {
			return err
		}
		slog.Info("template created", "id", meta.ID, "path", meta.Path)
		return nil
	},
}

var templatesImportCmd = &cobra.Command{
	Use:   "import dir",
	Short: "Import template files from a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(config.TemplatesDir)
		if err != nil {
			return err
		}
		imported, err := store.Import(args[0])
		if err != nil {
			return err
		}
		slog.Info("templates imported", "count", len(imported), "store", store.Dir())
		return nil
	},
}

var templatesDeleteCmd = &cobra.Command{
	Use:   "delete id",
	Short: "Remove a template from the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.NewStore(config.TemplatesDir)
		if err != nil {
			return err
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		slog.Info("template deleted", "id", args[0])
		return nil
	},
}
