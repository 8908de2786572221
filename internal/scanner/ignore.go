package scanner

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/onesync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the root of a source folder, one gitignore rule per line.
const IgnoreFileName = ".onesyncignore"

var defaultIgnoreLines = []string{
	// onesync
	IgnoreFileName,
	".onesync/",
	"*.lock",
	// python
	".ipynb_checkpoints/",
	"__pycache__/",
	"*.py[cod]",
	".venv/",
	// IDE/Editor-specific
	".vscode",
	".idea",
	// General excludes
	".git",
	"*.tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// IgnoreList decides which paths below a source folder stay out of a snapshot.
type IgnoreList struct {
	baseDir string
	extra   []string
	ignore  *gitignore.GitIgnore
}

// NewIgnoreList returns a list for baseDir. Extra lines are always applied on top of the
// defaults, whatever the ignore file says.
func NewIgnoreList(baseDir string, extra ...string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir, extra: extra}
}

// Load compiles the defaults, the extra lines and the rules of the ignore file if present.
func (l *IgnoreList) Load() {
	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, l.extra...)

	ignorePath := filepath.Join(l.baseDir, IgnoreFileName)
	if utils.FileExists(ignorePath) {
		rules, err := readRules(ignorePath)
		if err != nil {
			slog.Warn("read ignore file", "path", ignorePath, "error", err)
		} else {
			lines = append(lines, rules...)
			slog.Debug("loaded ignore file", "path", ignorePath, "rules", len(rules))
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether a slash separated path relative to the base dir is excluded.
// Directories are matched with a trailing slash.
func (l *IgnoreList) ShouldIgnore(relPath string, isDir bool) bool {
	if l.ignore == nil {
		l.Load()
	}
	if isDir && !strings.HasSuffix(relPath, "/") {
		relPath += "/"
	}
	return l.ignore.MatchesPath(relPath)
}

func readRules(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rules []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	return rules, scanner.Err()
}
