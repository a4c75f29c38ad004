package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"rolectl/internal/app"
	"rolectl/internal/archive"
	"rolectl/internal/config"
	"rolectl/internal/encryption"
	"rolectl/internal/model"
	"rolectl/internal/settings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults and applies the
// --scope override.
func loadConfig(cmd *cobra.Command) (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}

	if scope, _ := cmd.Flags().GetString("scope"); scope != "" {
		cfg.ScopeID = scope
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a RoleApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "UpdateRole", "DeleteRole").
func newApp(cmd *cobra.Command, operation string, parameters ...string) (*app.RoleApp, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a, err := app.NewRoleApp(cmd.Context(), cfg, operation, strings.Join(parameters, " "))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// patchDocuments collects the edits requested by --file and the field flags.
// The file is applied first so flags can override it.
func patchDocuments(cmd *cobra.Command) ([]*settings.PatchDocument, error) {
	var docs []*settings.PatchDocument

	if path, _ := cmd.Flags().GetString("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading patch file: %w", err)
		}
		format := strings.TrimPrefix(filepath.Ext(path), ".")
		doc, err := settings.ParsePatchDocument(data, format)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		docs = append(docs, doc)
	}

	doc := &settings.PatchDocument{}
	flags := cmd.Flags()
	if flags.Changed("name") {
		name, _ := flags.GetString("name")
		doc.Name = &name
	}
	if flags.Changed("color") {
		color, _ := flags.GetString("color")
		doc.HexColor = &color
	}
	if flags.Changed("hide") {
		hide, _ := flags.GetBool("hide")
		doc.HideRole = &hide
	}
	if flags.Lookup("show") != nil && flags.Changed("show") {
		show, _ := flags.GetBool("show")
		hide := !show
		doc.HideRole = &hide
	}
	doc.Grant, _ = flags.GetStringSlice("grant")
	if flags.Lookup("revoke") != nil {
		doc.Revoke, _ = flags.GetStringSlice("revoke")
	}
	docs = append(docs, doc)
	return docs, nil
}

func printRole(r *model.Role, entries []settings.PermissionEntry) {
	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Name:        %s\n", r.Name)
	fmt.Printf("Color:       %s\n", r.HexColor)
	fmt.Printf("Hidden:      %t\n", r.HideRole)
	fmt.Printf("Permissions: %#x\n", r.Permissions)
	for _, e := range entries {
		mark := " "
		if e.HasPerm {
			mark = "x"
		}
		fmt.Printf("  [%s] %-16s %s\n", mark, e.Key, e.Name)
	}
}

var rootCmd = &cobra.Command{
	Use:          "rolectl",
	Short:        "Edit server role settings",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// ROLECTL_SCOPE or --scope pick the server; otherwise start a fresh one.
		scopeID := defaults["scope_id"]
		if scope, _ := cmd.Flags().GetString("scope"); scope != "" {
			scopeID = scope
		}
		if scopeID == "" {
			scopeID = uuid.New().String()
		}

		cfg := config.NewConfig(scopeID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Server ID: %s\n", scopeID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Server ID:   %s\n", cfg.ScopeID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Permissions: %s\n", cfg.Permissions.Scope)
		fmt.Printf("Watch:       %t (%dms)\n", cfg.Watch.Enabled, cfg.Watch.DebounceMS)
		fmt.Printf("Archive:     %s (encrypted: %t)\n", cfg.Archive.Type, cfg.Archive.Encrypted)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		passphrase, err := app.NewPrompter().NewPassphrase()
		if err != nil {
			return err
		}

		enc := encryption.NewAgeEncryptor(cfg.Encryption)
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		pub, err := enc.PublicKey()
		if err != nil {
			return err
		}

		fmt.Printf("Keys written to %s\n", filepath.Dir(cfg.Encryption.PrivateKeyPath))
		fmt.Printf("Public key: %s\n", pub)
		return nil
	},
}

// perms command
var permsCmd = &cobra.Command{
	Use:   "perms",
	Short: "Inspect permission sets",
}

var permsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the permissions of a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("kind")
		perms, err := settings.PermissionSetForScope(scope)
		if err != nil {
			return err
		}
		for _, def := range perms {
			fmt.Printf("%#04x  %-16s %-18s %s\n", def.Bit, def.Key, def.Name, def.Description)
		}
		return nil
	},
}

// role command
var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage roles",
}

var roleCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := patchDocuments(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "CreateRole", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.CreateRole(cmd.Context(), args[0], docs...)
		if err != nil {
			return fmt.Errorf("creating role: %w", err)
		}
		fmt.Printf("Created role %s (%s)\n", r.Name, r.ID)
		return nil
	},
}

var roleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the server's roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListRoles")
		if err != nil {
			return err
		}
		defer a.Close()

		roles, err := a.ListRoles(cmd.Context())
		if err != nil {
			return err
		}
		if len(roles) == 0 {
			fmt.Println("No roles found.")
			return nil
		}
		for _, r := range roles {
			fmt.Printf("%-36s  %-7s  %#06x  %s\n", r.ID, r.HexColor, r.Permissions, r.Name)
		}
		return nil
	},
}

var roleShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a role's settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShowRole", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.ShowRole(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\n\n", view.Title)
		printRole(view.Role, view.Permissions)
		return nil
	},
}

var roleEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change a role's settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := patchDocuments(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "UpdateRole", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.EditRole(cmd.Context(), args[0], docs...)
		if err != nil {
			return err
		}
		if res.Outcome == settings.SaveNoChanges {
			fmt.Println("No changes.")
			return nil
		}
		fmt.Printf("%s: saved %d field(s)\n", res.Title, len(res.Patch))
		return nil
	},
}

var roleDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a role",
	Long:  "Delete a role. The role's name must be typed, with --confirm or at the prompt, exactly as it is shown.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typed, _ := cmd.Flags().GetString("confirm")

		a, err := newApp(cmd, "DeleteRole", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		prompter := app.NewPrompter()
		confirm := func(title, confirmText string) (string, error) {
			fmt.Fprintf(os.Stderr, "%s\nType %q to confirm.\n", title, confirmText)
			return prompter.Line("> ")
		}

		if _, err := a.DeleteRole(cmd.Context(), args[0], typed, confirm); err != nil {
			return err
		}
		fmt.Printf("Role deleted. Back to %s\n", a.Location())
		return nil
	},
}

var roleWatchCmd = &cobra.Command{
	Use:   "watch ID",
	Short: "Follow changes to a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cmd, "WatchRole", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		return a.WatchRole(ctx, args[0], func(ev app.WatchEvent) {
			ts := time.Now().Format("15:04:05")
			if ev.Gone {
				fmt.Printf("%s  role deleted\n", ts)
				return
			}
			fmt.Printf("%s  %s  %s  %#06x  hidden=%t\n", ts, ev.Role.Name, ev.Role.HexColor, ev.Role.Permissions, ev.Role.HideRole)
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View settings operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No settings operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-12s  %s  %-8s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect archived changes",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived change records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListArchive")
		if err != nil {
			return err
		}
		defer a.Close()

		keys, err := a.ArchiveKeys()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No archived changes.")
			return nil
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show KEY",
	Short: "Show one archived change record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShowArchive", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if archive.IsSealed(args[0]) {
			if passphrase, err = app.NewPrompter().Passphrase("Passphrase: "); err != nil {
				return err
			}
		}

		rec, err := a.ArchiveRecord(args[0], passphrase)
		if errors.Is(err, app.ErrArchiveDisabled) {
			return fmt.Errorf("%w: set archive.type in the config", err)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Action:   %s\n", rec.Action)
		fmt.Printf("Role:     %s\n", rec.RoleID)
		fmt.Printf("Recorded: %s\n", rec.RecordedAt.Format(time.RFC3339))
		if rec.OperationID != 0 {
			fmt.Printf("Op:       #%d\n", rec.OperationID)
		}
		if len(rec.Patch) > 0 {
			fmt.Println("Patch:")
			for _, f := range settings.RoleFields {
				if v, ok := rec.Patch[string(f)]; ok {
					fmt.Printf("  %-12s %v\n", f, v)
				}
			}
		}
		if rec.Before != nil {
			fmt.Printf("Before:   %s %s %#06x hidden=%t\n", rec.Before.Name, rec.Before.HexColor, rec.Before.Permissions, rec.Before.HideRole)
		}
		if rec.After != nil {
			fmt.Printf("After:    %s %s %#06x hidden=%t\n", rec.After.Name, rec.After.HexColor, rec.After.Permissions, rec.After.HideRole)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("scope", "", "Server ID to operate on (overrides scope_id)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// perms subcommands
	permsCmd.AddCommand(permsListCmd)
	permsListCmd.Flags().String("kind", "role", `Permission set: "role" or "channel"`)

	// role subcommands
	roleCmd.AddCommand(roleCreateCmd, roleListCmd, roleShowCmd, roleEditCmd, roleDeleteCmd, roleWatchCmd)
	for _, c := range []*cobra.Command{roleCreateCmd, roleEditCmd} {
		c.Flags().String("color", "", "Role color, e.g. #4c93ff")
		c.Flags().Bool("hide", false, "Display members with this role along with default members")
		c.Flags().StringSlice("grant", nil, "Permissions to grant, by key or name")
		c.Flags().StringP("file", "f", "", "JSON or YAML patch document")
	}
	roleEditCmd.Flags().String("name", "", "New role name")
	roleEditCmd.Flags().Bool("show", false, "Display members with this role separately")
	roleEditCmd.Flags().StringSlice("revoke", nil, "Permissions to revoke, by key or name")
	roleEditCmd.MarkFlagsMutuallyExclusive("hide", "show")
	roleDeleteCmd.Flags().String("confirm", "", "Role name, typed exactly, to confirm the delete")

	// archive subcommands
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveShowCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(permsCmd)
	rootCmd.AddCommand(roleCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(archiveCmd)
}
