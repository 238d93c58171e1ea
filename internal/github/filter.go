package github

import (
	"path"
	"strings"
)

// languageByExt maps source file extensions to the language tag sent to the
// model. Files with other extensions are dropped during retrieval.
var languageByExt = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".go":    "go",
	".rs":    "rust",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".yml":   "yaml",
	".yaml":  "yaml",
}

// skipDirs are path segments that never contain first-party source.
var skipDirs = []string{
	"node_modules/", "vendor/", "__pycache__/", ".git/",
	"dist/", "build/", "target/", "coverage/", "venv/",
}

// Analyzable reports whether a file should be considered for analysis:
// a supported source extension, not inside a skipped directory, and not a
// hidden file.
func Analyzable(p string) bool {
	if p == "" {
		return false
	}
	for _, dir := range skipDirs {
		if strings.Contains(p, dir) {
			return false
		}
	}
	if strings.HasPrefix(path.Base(p), ".") {
		return false
	}
	_, ok := languageByExt[strings.ToLower(path.Ext(p))]
	return ok
}

// Language returns the language tag for a path, or "text" when unknown.
func Language(p string) string {
	if lang, ok := languageByExt[strings.ToLower(path.Ext(p))]; ok {
		return lang
	}
	return "text"
}
