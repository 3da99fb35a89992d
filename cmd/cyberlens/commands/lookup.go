package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/history"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/metrics"
	"github.com/teranos/cyberlens/orchestrator"
	"github.com/teranos/cyberlens/provider"
	"github.com/teranos/cyberlens/sources"
)

// LookupCmd looks up a single indicator from the command line
var LookupCmd = &cobra.Command{
	Use:   "lookup <ioc>",
	Short: "Look up one indicator across all configured providers",
	Long: `Classify an indicator and query every enabled provider that supports its type.

Providers run concurrently with a per-provider timeout. A provider that fails
or times out is reported in its row and never hides the others.

Examples:
  cyberlens lookup 8.8.8.8
  cyberlens lookup https://evil.example/payload --type url
  cyberlens lookup 44d88612fea8a8f36de82e1278abb02f --json
  cyberlens lookup evil.example --timeout 3s --record`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

var (
	lookupType    string
	lookupTimeout time.Duration
	lookupJSON    bool
	lookupRecord  bool
)

func init() {
	LookupCmd.Flags().StringVarP(&lookupType, "type", "t", "", "Assert the indicator type (ip, domain, url, hash)")
	LookupCmd.Flags().DurationVar(&lookupTimeout, "timeout", 0, "Per-provider timeout (default from lookup.timeout_ms)")
	LookupCmd.Flags().BoolVarP(&lookupJSON, "json", "j", false, "Print the full response as JSON")
	LookupCmd.Flags().BoolVar(&lookupRecord, "record", false, "Record the lookup in history")
}

// buildOrchestrator wires configured providers into an orchestrator
func buildOrchestrator(cfg *am.Config) (*orchestrator.Orchestrator, error) {
	reg, err := sources.NewRegistry(cfg, sources.WithLogger(logger.ComponentLogger("sources")))
	if err != nil {
		return nil, err
	}
	return orchestrator.New(reg,
		orchestrator.WithTimeout(cfg.LookupTimeout()),
		orchestrator.WithLogger(logger.ComponentLogger("orchestrator")),
		orchestrator.WithObserver(metrics.ProviderObserver{}),
	), nil
}

func runLookup(cmd *cobra.Command, args []string) error {
	asserted, err := ioc.ParseType(lookupType)
	if err != nil {
		return err
	}
	if lookupTimeout < 0 {
		return errors.NewInvalidRequestError("--timeout must not be negative")
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	orch, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := orch.Orchestrate(ctx, args[0], orchestrator.Options{
		AssertedType: asserted,
		Timeout:      lookupTimeout,
	})

	if lookupRecord {
		recordLookup(ctx, cfg, resp)
	}

	if lookupJSON {
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode response")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	return renderLookup(cmd.OutOrStdout(), resp)
}

func recordLookup(ctx context.Context, cfg *am.Config, resp *orchestrator.Response) {
	database, err := openDatabase("", cfg)
	if err != nil {
		pterm.Warning.Printfln("History not recorded: %v", err)
		return
	}
	defer database.Close()

	if _, err := history.NewStore(database, logger.ComponentLogger("history")).Record(ctx, resp); err != nil {
		pterm.Warning.Printfln("History not recorded: %v", err)
	}
}

func renderLookup(w io.Writer, resp *orchestrator.Response) error {
	if resp.DetectedType == ioc.TypeNone {
		pterm.Fprint(w, pterm.Warning.Sprintfln("%q is not a recognized IP, domain, URL or hash", resp.IOC))
		return nil
	}

	classified := resp.Classified()
	pterm.Fprint(w, pterm.DefaultSection.Sprintfln("%s (%s)", classified.Normalized, describeType(classified)))
	if !resp.Validation.IsValid {
		pterm.Fprint(w, pterm.Warning.Sprintfln("Asserted type %s does not match detected type %s",
			resp.Validation.UserSelectedType, resp.DetectedType))
	}

	if len(resp.Providers) == 0 {
		pterm.Fprint(w, pterm.Info.Sprintln("No enabled provider supports this indicator type"))
		return nil
	}

	data := pterm.TableData{{"Provider", "Status", "Elapsed", "Detail"}}
	for _, r := range resp.Providers {
		data = append(data, []string{
			r.ProviderName,
			colorStatus(r.Status),
			fmt.Sprintf("%dms", r.ElapsedMS),
			providerDetail(r),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render results")
	}
	pterm.Fprintln(w, table)

	verdict := history.DeriveVerdict(resp)
	succeeded, failed, timedOut := resp.Counts()
	pterm.Fprintln(w)
	pterm.Fprintln(w, fmt.Sprintf("Verdict: %s   (%d ok, %d failed, %d timed out, %dms)",
		colorVerdict(verdict), succeeded, failed, timedOut, resp.Meta.ExecutionTimeMS))
	return nil
}

func describeType(c ioc.Classified) string {
	switch {
	case c.Type == ioc.TypeIP && c.IPVersion != 0:
		return "ipv" + strconv.Itoa(c.IPVersion)
	case c.Type == ioc.TypeHash && c.HashAlgorithm != "":
		return c.HashAlgorithm
	default:
		return c.Type.String()
	}
}

// providerDetail summarizes one provider result in a table cell
func providerDetail(r provider.Result) string {
	switch r.Status {
	case provider.StatusTimeout:
		return "no answer before timeout"
	case provider.StatusFailure:
		if r.Error == nil {
			return "failed"
		}
		return fmt.Sprintf("%s: %s", r.Error.Kind, r.Error.Message)
	}

	if scored, ok := r.Data.(provider.Scored); ok {
		if score, ok := scored.ThreatScore(); ok {
			return fmt.Sprintf("threat score %d", score)
		}
		return "not known to provider"
	}
	return "ok"
}

func colorStatus(s provider.Status) string {
	switch s {
	case provider.StatusSuccess:
		return pterm.Green(string(s))
	case provider.StatusTimeout:
		return pterm.Yellow(string(s))
	default:
		return pterm.Red(string(s))
	}
}

func colorVerdict(v history.Verdict) string {
	label := v.Verdict
	if v.Score != nil {
		label = fmt.Sprintf("%s (score %d)", v.Verdict, *v.Score)
	}
	switch v.Verdict {
	case history.VerdictMalicious:
		return pterm.Red(label)
	case history.VerdictSuspicious:
		return pterm.Yellow(label)
	case history.VerdictBenign:
		return pterm.Green(label)
	default:
		return label
	}
}
