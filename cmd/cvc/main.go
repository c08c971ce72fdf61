package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cvc-go/internal/app"
	"cvc-go/internal/config"
	"cvc-go/internal/cvc"
	"cvc-go/internal/database"
	"cvc-go/internal/encryption"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct exit statuses for scripts.
func exitCode(err error) int {
	switch cvc.KindOf(err) {
	case cvc.KindValidation:
		return 2
	case cvc.KindNotFound:
		return 3
	case cvc.KindConflict:
		return 4
	case cvc.KindState:
		return 5
	case cvc.KindIntegrity:
		return 6
	default:
		return 1
	}
}

// configPath is the --config flag if set, else the default location.
func configPath(cmd *cobra.Command) (string, app.Paths, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return "", app.Paths{}, fmt.Errorf("getting default paths: %w", err)
	}
	if flag, _ := cmd.Flags().GetString("config"); flag != "" {
		return flag, paths, nil
	}
	return paths.ConfigPath, paths, nil
}

func readConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _, err := configPath(cmd)
	if err != nil {
		return nil, "", err
	}
	cfg, err := app.LoadConfig(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, path, nil
}

// newApp reads the config and creates a CVCApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "CheckoutNewVersion").
func newApp(cmd *cobra.Command, operation string) (*app.CVCApp, error) {
	cfg, _, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}

	opts := app.Options{LogLevel: slog.LevelWarn}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		opts.LogLevel = slog.LevelDebug
	}

	a, err := app.NewCVCApp(cmd.Context(), cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// closeApp closes a, reporting a close failure only if the command itself succeeded.
func closeApp(a *app.CVCApp, err *error) {
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printBranch(b *cvc.Branch) {
	status := ""
	if !b.IsActive() {
		status = "  [deleted]"
	}
	fmt.Printf("%s  %-7s  %-24s  head:%s%s\n", b.ID, b.Type, b.Name, shortID(b.HeadID), status)
}

var rootCmd = &cobra.Command{
	Use:          "cvc",
	Short:        "Content version control",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, paths, err := configPath(cmd)
		if err != nil {
			return err
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, paths.BaseDir)

		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", paths.BaseDir)

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return nil
		}

		passphrase, err := readPassphrase("Snapshot passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up encryption keys: %w", err)
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Locking:     %s\n", cfg.Locking.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		if age, ok := encryptorFor(cfg).(*encryption.AgeEncryptor); ok {
			if recipient, err := age.Recipient(); err == nil {
				fmt.Printf("Public key:  %s\n", recipient)
			}
		}
		return nil
	},
}

func encryptorFor(cfg *config.Config) cvc.Encryptor {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil
	}
	return enc
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the database schema",
}

func openDatabase(cmd *cobra.Command) (database.Database, error) {
	cfg, _, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}
	return database.NewDatabaseFromConfig(cmd.Context(), cfg.Database, cfg.InstanceID)
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.MigrateUp(); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether migrations are pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.CheckMigrations(); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

// branch command
var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage branches",
}

var branchMainCmd = &cobra.Command{
	Use:   "main ITEM",
	Short: "Create the main branch of a content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		item, err := app.ParseContentItem(args[0])
		if err != nil {
			return err
		}
		author, _ := cmd.Flags().GetString("author")

		a, err := newApp(cmd, "CreateMainBranch")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		b, err := a.CreateMainBranch(cmd.Context(), item, author)
		if err != nil {
			return err
		}
		printBranch(b)
		return nil
	},
}

var branchCreateCmd = &cobra.Command{
	Use:   "create ITEM NAME",
	Short: "Fork a feature branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		item, err := app.ParseContentItem(args[0])
		if err != nil {
			return err
		}
		from, _ := cmd.Flags().GetString("from")

		a, err := newApp(cmd, "CreateFeatureBranch")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		b, err := a.CreateFeatureBranch(cmd.Context(), item, args[1], from)
		if err != nil {
			return err
		}
		printBranch(b)
		return nil
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list ITEM",
	Short: "List branches of a content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		item, err := app.ParseContentItem(args[0])
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp(cmd, "ListBranches")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		branches, err := a.ListBranches(cmd.Context(), item, all)
		if err != nil {
			return err
		}
		if len(branches) == 0 {
			fmt.Println("No branches.")
			return nil
		}
		for _, b := range branches {
			printBranch(b)
		}
		return nil
	},
}

// branchStatusCmd builds delete/restore, which differ only in the app call.
func branchStatusCmd(use, short, operation string, run func(*app.CVCApp, context.Context, cvc.ContentItem, string) (*cvc.Branch, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ITEM BRANCH",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			item, err := app.ParseContentItem(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd, operation)
			if err != nil {
				return err
			}
			defer closeApp(a, &err)

			b, err := run(a, cmd.Context(), item, args[1])
			if err != nil {
				return err
			}
			printBranch(b)
			return nil
		},
	}
}

var branchDeleteCmd = branchStatusCmd("delete", "Soft-delete a branch", "DeleteBranch", (*app.CVCApp).DeleteBranch)
var branchRestoreCmd = branchStatusCmd("restore", "Restore a deleted branch", "RestoreBranch", (*app.CVCApp).RestoreBranch)

var branchVerifyCmd = &cobra.Command{
	Use:   "verify ITEM BRANCH",
	Short: "Check a branch's history for damage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		item, err := app.ParseContentItem(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "VerifyBranch")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		b, err := a.VerifyBranch(cmd.Context(), item, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Branch %s (%s) is consistent.\n", b.Name, b.ID)
		return nil
	},
}

// checkout command
var checkoutCmd = &cobra.Command{
	Use:   "checkout ITEM BRANCH",
	Short: "Record a new version (payload from --file or stdin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		item, err := app.ParseContentItem(args[0])
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		message, _ := cmd.Flags().GetString("message")
		author, _ := cmd.Flags().GetString("author")
		expect, _ := cmd.Flags().GetString("expect-head")

		var payload []byte
		if file != "" {
			payload, err = os.ReadFile(file)
		} else {
			payload, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}

		a, err := newApp(cmd, "CheckoutNewVersion")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		c, err := a.CheckoutNewVersion(cmd.Context(), app.CheckoutRequest{
			Item:           item,
			BranchRef:      args[1],
			Payload:        payload,
			Message:        message,
			AuthorID:       author,
			ExpectedHeadID: expect,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s  parent:%s  %d bytes\n", c.ID, shortID(c.ParentID), len(c.Payload))
		return nil
	},
}

// diverge command
var divergeCmd = &cobra.Command{
	Use:   "diverge ITEM BRANCH_A BRANCH_B",
	Short: "Show how far two branches have diverged",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		item, err := app.ParseContentItem(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "DivergenceInfo")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		d, err := a.DivergenceInfo(cmd.Context(), item, args[1], args[2])
		if err != nil {
			return err
		}

		state := "up to date"
		switch {
		case d.RequiresMerge:
			state = "requires merge"
		case d.FastForward:
			state = "fast-forward"
		}
		fmt.Printf("base:    %s\n", d.BaseID)
		fmt.Printf("ahead:   %d\n", d.Ahead)
		fmt.Printf("behind:  %d\n", d.Behind)
		fmt.Printf("state:   %s\n", state)
		return nil
	},
}

// activity command
var activityCmd = &cobra.Command{
	Use:   "activity ITEM BRANCH",
	Short: "Summarize a branch's history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		item, err := app.ParseContentItem(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "ActivitySummary")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		s, err := a.ActivitySummary(cmd.Context(), item, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("commits: %d\n", s.TotalCommits)
		fmt.Printf("first:   %s  %s\n", s.FirstCommit.ID, s.FirstCommit.CreatedAt.Format(time.DateTime))
		fmt.Printf("last:    %s  %s\n", s.LastCommit.ID, s.LastCommit.CreatedAt.Format(time.DateTime))
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log ITEM BRANCH",
	Short: "View a branch's commits, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		item, err := app.ParseContentItem(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "History")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		commits, err := a.History(cmd.Context(), item, args[1], limit)
		if err != nil {
			return err
		}
		for _, c := range commits {
			fmt.Printf("%s  %s  %-12s  %s\n", shortID(c.ID), c.CreatedAt.Format(time.DateTime), c.AuthorID, c.Message)
		}
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show COMMIT",
	Short: "Show a commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		raw, _ := cmd.Flags().GetBool("raw")

		a, err := newApp(cmd, "GetCommit")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		c, err := a.GetCommit(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if raw {
			_, err = io.Copy(cmd.OutOrStdout(), bytes.NewReader(c.Payload))
			return err
		}

		parent := c.ParentID
		if c.IsRoot() {
			parent = "(root)"
		}
		fmt.Printf("commit  %s\n", c.ID)
		fmt.Printf("item    %s\n", c.ContentItem)
		fmt.Printf("parent  %s\n", parent)
		fmt.Printf("author  %s\n", c.AuthorID)
		fmt.Printf("date    %s\n", c.CreatedAt.Format(time.RFC3339))
		fmt.Printf("\n    %s\n\n", strings.ReplaceAll(c.Message, "\n", "\n    "))
		fmt.Printf("%d bytes\n", len(c.Payload))
		return nil
	},
}

// ops command
var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "View the operation journal",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "Operations")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		ops, err := a.Operations(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-20s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format(time.DateTime),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage database snapshots",
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the local database from the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, _, err := readConfig(cmd)
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Snapshot passphrase: ")
		if err != nil {
			return err
		}

		version, err := app.RestoreSnapshot(cmd.Context(), cfg, passphrase, force)
		if errors.Is(err, app.ErrDatabaseExists) {
			return fmt.Errorf("%w (use --force to overwrite)", err)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Restored snapshot version %d.\n", version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().String("config", "", "Config file (default $CVC_CONFIG_PATH or $XDG_CONFIG_HOME/cvc/config.toml)")

	defaultAuthor := os.Getenv("USER")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// branch subcommands
	branchCmd.AddCommand(branchMainCmd)
	branchMainCmd.Flags().String("author", defaultAuthor, "Author of the initial version")
	branchCmd.AddCommand(branchCreateCmd)
	branchCreateCmd.Flags().String("from", cvc.MainBranchName, "Source branch name or ID")
	branchCmd.AddCommand(branchListCmd)
	branchListCmd.Flags().BoolP("all", "a", false, "Include deleted branches")
	branchCmd.AddCommand(branchDeleteCmd)
	branchCmd.AddCommand(branchRestoreCmd)
	branchCmd.AddCommand(branchVerifyCmd)

	checkoutCmd.Flags().StringP("file", "f", "", "Read the payload from a file instead of stdin")
	checkoutCmd.Flags().StringP("message", "m", "", "Commit message")
	checkoutCmd.Flags().String("author", defaultAuthor, "Commit author")
	checkoutCmd.Flags().String("expect-head", "", "Fail instead of retrying if the branch head is not this commit")

	logCmd.Flags().IntP("limit", "n", 20, "Maximum number of commits to show (0 for all)")
	showCmd.Flags().Bool("raw", false, "Write only the payload to stdout")
	opsCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotRestoreCmd.Flags().Bool("force", false, "Overwrite an existing local database")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(divergeCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(snapshotCmd)
}
