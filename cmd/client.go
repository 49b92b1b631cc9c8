package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/client"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane/api"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

var (
	clientEndpoint  string
	clientNamespace string
	clientToken     string
	awaitTimeout    time.Duration
	outputJSON      bool
	startID         string
	startDeferred   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <text | ->",
	Short: "Analyze text and wait for the aggregated result",
	Long: `Start an analysis and block until it completes.

Pass "-" to read the text from stdin. If no result arrives within --timeout
the instance is cancelled.`,
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: requireConfig,
	RunE:              runAnalyze,
}

var startCmd = &cobra.Command{
	Use:               "start <text | ->",
	Short:             "Start an analysis and print its instance ID",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: requireConfig,
	RunE:              runStart,
}

var awaitCmd = &cobra.Command{
	Use:               "await <instance-id>",
	Short:             "Wait for an instance's result",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: requireConfig,
	RunE:              runAwait,
}

var statusCmd = &cobra.Command{
	Use:               "status <instance-id>",
	Short:             "Show an instance's status",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: requireConfig,
	RunE:              runStatus,
}

var cancelCmd = &cobra.Command{
	Use:               "cancel <instance-id>",
	Short:             "Cancel an instance",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: requireConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, args[0], workflow.SignalCancel)
	},
}

var signalCmd = &cobra.Command{
	Use:               "signal <instance-id> <start|cancel>",
	Short:             "Send a signal to an instance",
	Args:              cobra.ExactArgs(2),
	PersistentPreRunE: requireConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := workflow.ParseSignal(args[1])
		if err != nil {
			return err
		}
		return sendSignal(cmd, args[0], sig)
	},
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, startCmd, awaitCmd, statusCmd, cancelCmd, signalCmd} {
		c.Flags().StringVar(&clientEndpoint, "endpoint", "", "Daemon URL (overrides client.endpoint)")
		c.Flags().StringVarP(&clientNamespace, "namespace", "n", "", "Namespace (overrides client.namespace)")
		c.Flags().StringVar(&clientToken, "token", "", "Bearer token (overrides client.credentials)")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{analyzeCmd, awaitCmd} {
		c.Flags().DurationVarP(&awaitTimeout, "timeout", "t", 30*time.Second, "How long to wait for the result")
	}
	for _, c := range []*cobra.Command{analyzeCmd, awaitCmd, statusCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Print JSON")
	}
	startCmd.Flags().StringVar(&startID, "id", "", "Instance ID (generated when empty)")
	startCmd.Flags().BoolVar(&startDeferred, "defer", false, "Create the instance without sending the start signal")
}

// newClient builds a client for the daemon named by config and flags.
func newClient() (*client.Client, error) {
	cc := cfg.Client
	if clientEndpoint != "" {
		cc.Endpoint = clientEndpoint
	}
	if clientNamespace != "" {
		cc.Namespace = clientNamespace
	}
	if clientToken != "" {
		cc.Credentials = clientToken
	}
	cc = cc.WithDefaults()
	backend, err := api.NewRemoteBackend(cc)
	if err != nil {
		return nil, err
	}
	return client.New(backend, cc), nil
}

// readText returns arg, or stdin when arg is "-".
func readText(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Analyze(cmd.Context(), text, awaitTimeout)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), result)
}

func runStart(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var id controlplane.InstanceID
	if startDeferred {
		id, err = c.Create(cmd.Context(), controlplane.InstanceID(startID), text)
	} else {
		id, err = c.StartWithID(cmd.Context(), controlplane.InstanceID(startID), text)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runAwait(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.AwaitResult(cmd.Context(), controlplane.InstanceID(args[0]), awaitTimeout)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), result)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	id := controlplane.InstanceID(args[0])
	out := cmd.OutOrStdout()
	if !outputJSON {
		status, err := c.GetStatus(cmd.Context(), id)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, status)
		return nil
	}

	snap, err := c.Describe(cmd.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(out, api.NewStatusResponse(snap))
}

func sendSignal(cmd *cobra.Command, id string, sig workflow.Signal) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Signal(cmd.Context(), controlplane.InstanceID(id), sig); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", sig, id)
	return nil
}

func printResult(w io.Writer, r *analysis.AnalysisResult) error {
	if outputJSON {
		return writeJSON(w, r)
	}
	_, _ = fmt.Fprintf(w, "Sentiment: %s (%.2f)\n", r.Sentiment.Label, r.Sentiment.Confidence)
	_, _ = fmt.Fprintf(w, "Summary:   %s\n", r.Summary.Text)
	_, _ = fmt.Fprintf(w, "Topics:    %s\n", strings.Join(r.Topics, ", "))
	_, _ = fmt.Fprintf(w, "Processed: %s\n", r.ProcessedAt.Format(time.RFC3339))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
