package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.lsp.dev/protocol"

	"lspsync/src/config"
	"lspsync/src/editor"
	"lspsync/src/internal/common"
	"lspsync/src/internal/registry"
	"lspsync/src/syncer"
)

var checkWait time.Duration

var checkCmd = &cobra.Command{
	Use:   CmdCheck + " <files...>",
	Short: "Open files against their language servers and print diagnostics",
	Long: `Open the given files against their configured language servers, wait for
diagnostics to arrive, and print them. Files whose language has no
configured server are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(args)
	},
}

func init() {
	checkCmd.Flags().DurationVar(&checkWait, FlagWait, 3*time.Second, "how long to wait for diagnostics")
}

func runCheck(files []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine workspace root: %w", err)
	}

	store := editor.NewMemoryStore(root)
	s := syncer.New(store, settings)
	if err := s.Start(); err != nil {
		return fmt.Errorf("start synchronizer: %w", err)
	}
	defer s.Stop()

	opened := 0
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", file, err)
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		language, ok := registry.LanguageByExtension(filepath.Ext(abs))
		if !ok {
			common.CLILogger.Warn("Skipping %s: unsupported file type", file)
			continue
		}
		store.UpdateBuffer(editor.BufferState{
			ID:       abs,
			FilePath: abs,
			Language: language,
			Content:  string(content),
		})
		opened++
	}
	if opened == 0 {
		return fmt.Errorf("no supported files to check")
	}

	// Servers push diagnostics asynchronously; give them a quiet window.
	time.Sleep(checkWait)

	printDiagnostics(store.GetState())
	return nil
}

func printDiagnostics(state editor.State) {
	bufferIDs := make([]string, 0, len(state.Diagnostics))
	for id := range state.Diagnostics {
		bufferIDs = append(bufferIDs, id)
	}
	sort.Strings(bufferIDs)

	total := 0
	for _, id := range bufferIDs {
		diags := state.Diagnostics[id]
		if len(diags) == 0 {
			continue
		}
		fmt.Printf("%s:\n", id)
		for _, d := range diags {
			fmt.Printf("  %d:%d %s %s\n", d.Range.Start.Line+1, d.Range.Start.Character+1, severityLabel(d.Severity), d.Message)
			total++
		}
	}
	if total == 0 {
		fmt.Println("No diagnostics reported.")
		return
	}
	fmt.Printf("%d diagnostic(s) in %d file(s).\n", total, len(bufferIDs))
}

func severityLabel(s protocol.DiagnosticSeverity) string {
	switch s {
	case protocol.DiagnosticSeverityError:
		return "error:"
	case protocol.DiagnosticSeverityWarning:
		return "warning:"
	case protocol.DiagnosticSeverityInformation:
		return "info:"
	case protocol.DiagnosticSeverityHint:
		return "hint:"
	default:
		return "diagnostic:"
	}
}

func loadSettings() (*config.Settings, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return settings, nil
}
