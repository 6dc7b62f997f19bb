package registry

// LanguageInfo describes one supported language server.
type LanguageInfo struct {
	Name           string   // Server language key (go, python, typescript, zig)
	Extensions     []string // File extensions handled by this server
	DefaultCommand string   // Default LSP server command
	DefaultArgs    []string // Default arguments for the LSP server

	// Fallbacks are tried in order when the default command fails to spawn
	// or initialize. Each entry is a full command line.
	Fallbacks [][]string

	// PushOpenFiles marks servers that need the set of open file paths
	// pushed via workspace/didChangeConfiguration whenever it changes.
	PushOpenFiles bool

	InitOptions map[string]interface{}
}

var languageRegistry = map[string]LanguageInfo{
	"go": {
		Name:           "go",
		Extensions:     []string{".go"},
		DefaultCommand: "gopls",
		DefaultArgs:    []string{"serve"},
		InitOptions: map[string]interface{}{
			"usePlaceholders":    false,
			"completeUnimported": true,
		},
	},
	"python": {
		Name:           "python",
		Extensions:     []string{".py", ".pyi"},
		DefaultCommand: "pylsp",
		DefaultArgs:    []string{},
		Fallbacks: [][]string{
			{"jedi-language-server"},
			{"pyright-langserver", "--stdio"},
		},
	},
	"typescript": {
		Name:           "typescript",
		Extensions:     []string{".ts", ".tsx", ".js", ".jsx", ".mjs"},
		DefaultCommand: "typescript-language-server",
		DefaultArgs:    []string{"--stdio"},
		Fallbacks: [][]string{
			{"npx", "--no-install", "typescript-language-server", "--stdio"},
		},
	},
	"zig": {
		Name:           "zig",
		Extensions:     []string{".zig"},
		DefaultCommand: "zls",
		DefaultArgs:    []string{},
		// zls resolves project roots from the set of open files rather than
		// the workspace root alone.
		PushOpenFiles: true,
	},
	"rust": {
		Name:           "rust",
		Extensions:     []string{".rs"},
		DefaultCommand: "rust-analyzer",
		DefaultArgs:    []string{},
	},
}

// serverAliases routes editor language identifiers to the server that
// handles them. The editor-side languageId is preserved on the wire.
var serverAliases = map[string]string{
	"javascript":      "typescript",
	"javascriptreact": "typescript",
	"typescriptreact": "typescript",
}

// Extension to editor language mapping for headless/file-based use.
var extensionToLanguage = map[string]string{
	".go":  "go",
	".py":  "python",
	".pyi": "python",
	".js":  "javascript",
	".jsx": "javascriptreact",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescriptreact",
	".zig": "zig",
	".rs":  "rust",
}

// ResolveServerLanguage maps an editor language identifier to the server
// language that handles it, following aliases. The second return is false
// when no server is registered for the language.
func ResolveServerLanguage(language string) (string, bool) {
	if server, ok := serverAliases[language]; ok {
		language = server
	}
	_, ok := languageRegistry[language]
	if !ok {
		return "", false
	}
	return language, true
}

// GetLanguageByName returns language information by server language key.
func GetLanguageByName(name string) (*LanguageInfo, bool) {
	lang, exists := languageRegistry[name]
	if !exists {
		return nil, false
	}
	return &lang, true
}

// LanguageByExtension returns the editor language for a file extension.
func LanguageByExtension(ext string) (string, bool) {
	lang, ok := extensionToLanguage[ext]
	return lang, ok
}

// GetLanguageNames returns the registered server language keys.
func GetLanguageNames() []string {
	names := make([]string, 0, len(languageRegistry))
	for name := range languageRegistry {
		names = append(names, name)
	}
	return names
}

// GetInitOptions returns a copy of the initialization options for this
// language, never nil.
func (l *LanguageInfo) GetInitOptions() map[string]interface{} {
	result := make(map[string]interface{}, len(l.InitOptions))
	for k, v := range l.InitOptions {
		result[k] = v
	}
	return result
}

// FallbackCommands returns the ordered fallback command lines for this
// language as copies safe for the caller to hold.
func (l *LanguageInfo) FallbackCommands() [][]string {
	result := make([][]string, 0, len(l.Fallbacks))
	for _, cmd := range l.Fallbacks {
		result = append(result, append([]string(nil), cmd...))
	}
	return result
}
