package cli

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"lspsync/src/internal/registry"
)

var serversCmd = &cobra.Command{
	Use:   CmdServers,
	Short: "Show which configured language servers are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServers()
	},
}

func runServers() error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	languages := make([]string, 0, len(settings.LSPServers))
	for language := range settings.LSPServers {
		languages = append(languages, language)
	}
	sort.Strings(languages)

	for _, language := range languages {
		sc := settings.LSPServers[language]
		fmt.Printf("%-12s %s\n", language, availability(sc.Command, sc.Args))

		if info, ok := registry.GetLanguageByName(language); ok {
			for _, fallback := range info.FallbackCommands() {
				fmt.Printf("%-12s   fallback: %s\n", "", availability(fallback[0], fallback[1:]))
			}
		}
	}
	return nil
}

// availability reports whether a server command resolves on PATH.
func availability(command string, args []string) string {
	line := command
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Sprintf("%s (not installed)", line)
	}
	return fmt.Sprintf("%s (available)", line)
}
