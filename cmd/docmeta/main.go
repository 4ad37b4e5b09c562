package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"

	"docmeta-go/internal/app"
	"docmeta-go/internal/config"
	"docmeta-go/internal/digest"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "StoreMetadata").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts for a passphrase without echoing it.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

var rootCmd = &cobra.Command{
	Use:   "docmeta",
	Short: "Document metadata and integrity tool",
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

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Path)
		fmt.Printf("Export Dir:  %s\n", cfg.Export.Dir)
		return nil
	},
}

// digest command

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Compute and verify file digests",
}

var digestComputeCmd = &cobra.Command{
	Use:   "compute PATH",
	Short: "Compute a file digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		algFlag, _ := cmd.Flags().GetString("alg")

		a, err := newApp("DigestCompute")
		if err != nil {
			return err
		}
		defer a.Close()

		alg, err := a.DefaultAlgorithm(algFlag)
		if err != nil {
			return err
		}

		sum, err := digest.Compute(args[0], alg)
		if err != nil {
			return fmt.Errorf("computing digest: %w", err)
		}

		fmt.Printf("%s *%s\n", sum, args[0])
		return nil
	},
}

var digestVerifyCmd = &cobra.Command{
	Use:   "verify PATH [HEX]",
	Short: "Verify a file against a digest or its sidecar",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		algFlag, _ := cmd.Flags().GetString("alg")

		a, err := newApp("DigestVerify")
		if err != nil {
			return err
		}
		defer a.Close()

		alg, err := a.DefaultAlgorithm(algFlag)
		if err != nil {
			return err
		}

		var expected string
		if len(args) == 2 {
			expected = args[1]
		} else {
			expected, err = digest.ReadSidecar(args[0], alg)
			if err != nil {
				return fmt.Errorf("reading sidecar: %w", err)
			}
			if expected == "" {
				return fmt.Errorf("no sidecar digest found for %s", args[0])
			}
		}

		out := digest.Verify(args[0], expected, alg)
		if out.OK {
			fmt.Printf("%s: OK\n", args[0])
			return nil
		}
		return fmt.Errorf("%s: %s", args[0], out.Reason)
	},
}

var digestWriteSidecarCmd = &cobra.Command{
	Use:   "write-sidecar PATH",
	Short: "Write a sidecar digest file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		algFlag, _ := cmd.Flags().GetString("alg")

		a, err := newApp("WriteSidecar")
		if err != nil {
			return err
		}
		defer a.Close()

		alg, err := a.DefaultAlgorithm(algFlag)
		if err != nil {
			return err
		}

		if err := digest.WriteSidecar(args[0], alg); err != nil {
			return fmt.Errorf("writing sidecar: %w", err)
		}

		fmt.Printf("Wrote %s\n", digest.SidecarPath(args[0], alg))
		return nil
	},
}

var digestReadSidecarCmd = &cobra.Command{
	Use:   "read-sidecar PATH",
	Short: "Read the digest recorded in a sidecar file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		algFlag, _ := cmd.Flags().GetString("alg")

		a, err := newApp("ReadSidecar")
		if err != nil {
			return err
		}
		defer a.Close()

		alg, err := a.DefaultAlgorithm(algFlag)
		if err != nil {
			return err
		}

		sum, err := digest.ReadSidecar(args[0], alg)
		if err != nil {
			return fmt.Errorf("reading sidecar: %w", err)
		}
		if sum == "" {
			fmt.Println("No sidecar digest found.")
			return nil
		}

		fmt.Println(sum)
		return nil
	},
}

// meta command

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Manage file metadata",
}

var metaStoreCmd = &cobra.Command{
	Use:   "store PATH KEY=VALUE...",
	Short: "Store metadata for a file",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		props := make(map[string]string)
		for _, kv := range args[1:] {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid property %q (expected KEY=VALUE)", kv)
			}
			props[key] = value
		}

		a, err := newApp("StoreMetadata")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.StoreMetadata(args[0], props); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}

		fmt.Printf("Stored %d propert%s for %s\n", len(props), plural(len(props), "y", "ies"), args[0])
		return nil
	},
}

var metaGetCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "Show metadata for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RetrieveMetadata")
		if err != nil {
			return err
		}
		defer a.Close()

		props, err := a.RetrieveMetadata(args[0])
		if err != nil {
			return err
		}

		if len(props) == 0 {
			fmt.Println("No metadata.")
			return nil
		}

		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, props[k])
		}
		return nil
	},
}

var metaRemoveCmd = &cobra.Command{
	Use:   "remove PATH",
	Short: "Remove a file record and its metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RemoveMetadata")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveMetadata(args[0]); err != nil {
			return err
		}

		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var metaSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search metadata values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyFilter, _ := cmd.Flags().GetStringArray("key")

		a, err := newApp("SearchMetadata")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Store().Search(args[0], keyFilter)
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		for _, r := range results {
			fmt.Printf("%s\t%s=%s\n", r.Path, r.Key, r.Value)
		}
		return nil
	},
}

var metaKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List all metadata keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("AllKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		keys, err := a.Store().AllKeys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var metaPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "List all stored file paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("AllPaths")
		if err != nil {
			return err
		}
		defer a.Close()

		paths, err := a.Store().AllPaths()
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

var metaCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the total number of metadata entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("EntryCount")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Store().EntryCount()
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var metaVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Reclaim unused database space",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Vacuum")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store().Vacuum(); err != nil {
			return err
		}
		fmt.Println("Vacuum complete.")
		return nil
	},
}

// db command

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Export and import the metadata database",
}

var dbExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an encrypted snapshot of the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ExportDB")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		outDir, _ := cmd.Flags().GetString("out")
		path, err := a.ExportDB(passphrase, outDir)
		if err != nil {
			return err
		}

		fmt.Printf("Exported to %s\n", path)
		return nil
	},
}

var dbImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Decrypt an exported snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, _ := cmd.Flags().GetString("to")
		if dest == "" {
			return fmt.Errorf("--to is required")
		}

		a, err := newApp("ImportDB")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		if err := a.ImportDB(args[0], dest, passphrase); err != nil {
			return err
		}

		fmt.Printf("Imported to %s\n", dest)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the database schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("CheckMigrations")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store().CheckMigrations(); err != nil {
			return err
		}
		fmt.Println("Schema is up to date.")
		return nil
	},
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// digest subcommands
	digestCmd.AddCommand(digestComputeCmd)
	digestCmd.AddCommand(digestVerifyCmd)
	digestCmd.AddCommand(digestWriteSidecarCmd)
	digestCmd.AddCommand(digestReadSidecarCmd)
	digestCmd.PersistentFlags().String("alg", "", "Digest algorithm (md5, sha1, sha256, sha512, crc32)")

	// meta subcommands
	metaCmd.AddCommand(metaStoreCmd)
	metaCmd.AddCommand(metaGetCmd)
	metaCmd.AddCommand(metaRemoveCmd)
	metaCmd.AddCommand(metaSearchCmd)
	metaSearchCmd.Flags().StringArray("key", nil, "Restrict matches to this key (repeatable)")
	metaCmd.AddCommand(metaKeysCmd)
	metaCmd.AddCommand(metaPathsCmd)
	metaCmd.AddCommand(metaCountCmd)
	metaCmd.AddCommand(metaVacuumCmd)

	// db subcommands
	dbExportCmd.Flags().String("out", "", "Directory for the export (default: configured export dir)")
	dbCmd.AddCommand(dbExportCmd)
	dbImportCmd.Flags().String("to", "", "Destination path for the decrypted database")
	dbCmd.AddCommand(dbImportCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(dbCmd)
}
