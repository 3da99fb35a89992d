package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage CyberLens configuration",
	Long: `Manage CyberLens configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (CYBERLENS_* prefix, e.g. CYBERLENS_PROVIDERS_VIRUSTOTAL_API_KEY)
2. Project config (./am.toml, searched up the directory tree)
3. User config (~/.cyberlens/am.toml)
4. System config (/etc/cyberlens/config.toml)
5. Default values

Examples:
  cyberlens am show                  # Show effective configuration (keys masked)
  cyberlens am show --format json    # Same, as JSON
  cyberlens am show --sources        # Where every setting came from
  cyberlens am validate              # Validate current configuration
  cyberlens am init                  # Write a starter ~/.cyberlens/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective CyberLens configuration from all sources. API keys are masked.",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE:  runAmInit,
}

var (
	configFormat  string
	configSources bool
	initPath      string
	initForce     bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amShowCmd.Flags().BoolVar(&configSources, "sources", false, "Show the origin of every setting")
	amInitCmd.Flags().StringVar(&initPath, "path", "", "Where to write the file (default ~/.cyberlens/am.toml)")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Replace an existing file (it is kept as .back1)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if configSources {
		return renderSources(cmd.OutOrStdout(), am.Introspect())
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	return renderConfig(cmd.OutOrStdout(), cfg.Redacted(), configFormat)
}

func renderConfig(w io.Writer, cfg *am.Config, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(w, string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(w, "# CyberLens configuration\n%s", data)

	case "toml":
		data, err := am.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "# CyberLens configuration\n%s", data)

	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

func renderSources(w io.Writer, settings []am.SettingInfo) error {
	if active := am.ActiveConfigFile(); active != "" {
		fmt.Fprintf(w, "Active config file: %s\n\n", active)
	} else {
		fmt.Fprintf(w, "No config file found; using defaults and environment\n\n")
	}

	data := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range settings {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	fmt.Fprintln(w, table)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		if hint := errors.FlattenHints(err); hint != "" {
			pterm.Error.Println(err.Error())
			pterm.Info.Println(hint)
		}
		return errors.Wrap(err, "configuration validation failed")
	}

	pterm.Success.Println("Configuration is valid")
	if enabled := cfg.EnabledProviders(); len(enabled) == 0 {
		pterm.Warning.Println("No providers enabled; lookups will return no provider results")
	}
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		dir := am.UserConfigDir()
		if dir == "" {
			return errors.New("cannot determine home directory; pass --path")
		}
		path = filepath.Join(dir, "am.toml")
	}

	if err := am.SaveDefault(path, initForce); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s", path)
	pterm.Info.Println("Enable providers and set API keys there, or via CYBERLENS_PROVIDERS_<NAME>_API_KEY")
	return nil
}
