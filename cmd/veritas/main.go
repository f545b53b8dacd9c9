package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/veritas-audit/veritas/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL   string
	cfgFile     string
	bearerToken string
	adminSecret string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "veritas",
	Short: "Veritas audit ledger CLI",
	Long: `veritas is the command-line interface for the Veritas audit ledger.

It submits audit events, inspects the hash chain, seals checkpoints, and
runs independent verification against a ledger service.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.veritas")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
		if adminSecret == "" {
			adminSecret = viper.GetString("admin_secret")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.veritas/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger service URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "operator bearer token (for checkpoint and verify commands)")
	rootCmd.PersistentFlags().StringVar(&adminSecret, "secret", "", "admin secret, exchanged for operator tokens automatically")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client from the persistent flags.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if bearerToken != "" {
		opts = append(opts, client.WithBearerToken(bearerToken))
	}
	if adminSecret != "" {
		opts = append(opts, client.WithOperatorSecret(adminSecret))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	submitType     string
	submitCategory string
	submitSeverity string
	submitActor    string
	submitSession  string
	submitIP       string
	submitData     string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record an audit event and print the sealed entry",
	Long: `Submit records a single audit event.

  veritas submit --type user.login --category auth --severity info \
      --actor alice --data '{"method":"password"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ev := client.Event{
			Type:      submitType,
			Category:  submitCategory,
			Severity:  submitSeverity,
			SessionID: submitSession,
		}
		if submitActor != "" {
			ev.Actor = &client.Actor{DisplayName: submitActor}
		}
		if submitIP != "" {
			ev.Source = &client.Source{IPAddress: submitIP}
		}
		if submitData != "" {
			if err := json.Unmarshal([]byte(submitData), &ev.Data); err != nil {
				return fmt.Errorf("--data must be a JSON object: %w", err)
			}
		}

		entry, err := c.SubmitEvent(context.Background(), ev)
		if err != nil {
			return fmt.Errorf("submit event: %w", err)
		}

		fmt.Printf("✓ Event recorded\n\n")
		fmt.Printf("  Seq:  %d\n", entry.Seq)
		fmt.Printf("  Hash: %s\n", entry.Hash)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitType, "type", "", "Event type (e.g. user.login)")
	submitCmd.Flags().StringVar(&submitCategory, "category", "", "Event category (e.g. auth)")
	submitCmd.Flags().StringVar(&submitSeverity, "severity", "info", "Severity: info, warning, or critical")
	submitCmd.Flags().StringVar(&submitActor, "actor", "", "Actor display name")
	submitCmd.Flags().StringVar(&submitSession, "session", "", "Session id")
	submitCmd.Flags().StringVar(&submitIP, "ip", "", "Source IP address")
	submitCmd.Flags().StringVar(&submitData, "data", "", "Event payload as a JSON object")

	_ = submitCmd.MarkFlagRequired("type")
	_ = submitCmd.MarkFlagRequired("category")
}

// ── tail ─────────────────────────────────────────────────────────────────────

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the ledger entry count and current tail hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ov, err := c.GetOverview(context.Background())
		if err != nil {
			return fmt.Errorf("get overview: %w", err)
		}
		fmt.Printf("Entries:   %d\n", ov.Entries)
		fmt.Printf("Tail seq:  %d\n", ov.TailSeq)
		fmt.Printf("Tail hash: %s\n", ov.TailHash)
		fmt.Printf("Algorithm: %s\n", ov.Algorithm)
		return nil
	},
}

// ── entry ────────────────────────────────────────────────────────────────────

var entryCmd = &cobra.Command{
	Use:   "entry <seq> [<to-seq>]",
	Short: "Print one entry, or the inclusive range [seq, to-seq], as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		from, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seq %q", args[0])
		}
		if len(args) == 1 {
			entry, err := c.GetEntry(ctx, from)
			if err != nil {
				return err
			}
			return printJSON(entry)
		}

		to, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seq %q", args[1])
		}
		entries, err := c.ListEntries(ctx, from, to)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

// ── checkpoint ───────────────────────────────────────────────────────────────

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Seal and inspect checkpoints",
}

var (
	cpBuildFrom int64
	cpBuildTo   int64
)

var cpBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Seal a checkpoint over unsealed entries (requires operator credentials)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		cp, err := c.BuildCheckpoint(context.Background(), cpBuildFrom, cpBuildTo)
		if err != nil {
			return fmt.Errorf("build checkpoint: %w", err)
		}
		fmt.Printf("✓ Checkpoint sealed\n\n")
		fmt.Printf("  ID:          %s\n", cp.ID)
		fmt.Printf("  Range:       [%d, %d]\n", cp.FirstSeq, cp.LastSeq)
		fmt.Printf("  Merkle root: %s\n", cp.MerkleRoot)
		fmt.Printf("  Hash:        %s\n", cp.Hash)
		return nil
	},
}

var cpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sealed checkpoints, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		cps, err := c.ListCheckpoints(context.Background(), 50, 0)
		if err != nil {
			return fmt.Errorf("list checkpoints: %w", err)
		}
		if len(cps) == 0 {
			fmt.Println("No checkpoints sealed yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRANGE\tSTATUS\tCREATED")
		for _, cp := range cps {
			fmt.Fprintf(w, "%s\t[%d, %d]\t%s\t%s\n",
				cp.ID, cp.FirstSeq, cp.LastSeq, cp.Status, cp.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	cpBuildCmd.Flags().Int64Var(&cpBuildFrom, "from", 0, "First sequence id to seal (0 = after the last checkpoint)")
	cpBuildCmd.Flags().Int64Var(&cpBuildTo, "to", 0, "Last sequence id to seal (0 = current tail)")

	checkpointCmd.AddCommand(cpBuildCmd)
	checkpointCmd.AddCommand(cpListCmd)
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-verify ledger integrity (requires operator credentials)",
}

var verifyRangeCmd = &cobra.Command{
	Use:   "range <from> <to>",
	Short: "Re-verify the hash chain over an inclusive range",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err1 := strconv.ParseInt(args[0], 10, 64)
		to, err2 := strconv.ParseInt(args[1], 10, 64)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("from and to must be sequence ids")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.VerifyRange(context.Background(), from, to)
		if errors.Is(err, client.ErrTamperDetected) {
			fmt.Printf("✗ Chain BROKEN at entry %d after %d checked\n  %s\n", res.BrokenAt, res.Checked, res.Details)
			os.Exit(1)
		}
		if err != nil {
			return fmt.Errorf("verify range: %w", err)
		}
		fmt.Printf("✓ Chain intact: %d entries verified\n", res.Checked)
		return nil
	},
}

var verifyFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Run a complete audit from genesis, entries and checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		report, err := c.VerifyFull(context.Background())
		if errors.Is(err, client.ErrTamperDetected) {
			fmt.Printf("✗ Audit FAILED\n\n")
			if report.BrokenAt > 0 {
				fmt.Printf("  Chain broken at entry: %d\n", report.BrokenAt)
			}
			for _, id := range report.FailedCheckpoints {
				fmt.Printf("  Failed checkpoint:     %s\n", id)
			}
			for _, d := range report.Details {
				fmt.Printf("  Details:               %s\n", d)
			}
			os.Exit(1)
		}
		if err != nil {
			return fmt.Errorf("verify full: %w", err)
		}

		fmt.Printf("✓ Audit passed\n\n")
		fmt.Printf("  Entries checked:     %d\n", report.EntriesChecked)
		fmt.Printf("  Checkpoints checked: %d\n", report.CheckpointsChecked)
		if report.Resumed {
			fmt.Println("  (resumed from a previous interrupted run)")
		}
		return nil
	},
}

func init() {
	verifyCmd.AddCommand(verifyRangeCmd)
	verifyCmd.AddCommand(verifyFullCmd)
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the admin secret for an operator token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminSecret == "" {
			return fmt.Errorf("--secret (or admin_secret in the config file) is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		token, err := c.FetchToken(context.Background())
		if err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the veritas CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("veritas %s\n", version)
	},
}
