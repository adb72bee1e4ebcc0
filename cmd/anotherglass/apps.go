package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/DimaMzk/AnotherGlass/internal/config"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	appStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage the chat apps whose notifications are forwarded",
	Long: `Edit messaging.apps in the config file. A running server picks up
the change without a restart.`,
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List forwarded apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolveConfigPath(cfgFlag)
		cfg, err := config.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err = config.DefaultConfig(), nil
		}
		if err != nil {
			return err
		}
		fmt.Println(headerStyle.Render(fmt.Sprintf("Forwarded apps (%d)", len(cfg.Messaging.Apps))))
		if len(cfg.Messaging.Apps) == 0 {
			fmt.Println(mutedStyle.Render("  none"))
			return nil
		}
		for _, app := range cfg.Messaging.Apps {
			fmt.Println("  " + appStyle.Render(app))
		}
		fmt.Println(mutedStyle.Render("  " + path))
		return nil
	},
}

var appsAddCmd = &cobra.Command{
	Use:   "add <package>",
	Short: "Forward notifications from an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := config.AddMessagingApp(config.ResolveConfigPath(cfgFlag), args[0])
		if err != nil {
			return fmt.Errorf("add app: %w", err)
		}
		if !changed {
			fmt.Println(mutedStyle.Render(args[0] + " is already forwarded"))
			return nil
		}
		fmt.Println(okStyle.Render("added") + " " + appStyle.Render(args[0]))
		return nil
	},
}

var appsRemoveCmd = &cobra.Command{
	Use:     "remove <package>",
	Aliases: []string{"rm"},
	Short:   "Stop forwarding notifications from an app",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := config.RemoveMessagingApp(config.ResolveConfigPath(cfgFlag), args[0])
		if err != nil {
			return fmt.Errorf("remove app: %w", err)
		}
		if !changed {
			fmt.Println(mutedStyle.Render(args[0] + " was not forwarded"))
			return nil
		}
		fmt.Println(okStyle.Render("removed") + " " + appStyle.Render(args[0]))
		return nil
	},
}

func init() {
	appsCmd.AddCommand(appsListCmd, appsAddCmd, appsRemoveCmd)
}
