package localfs

// WalkOptions configures BuildUploadTree.
type WalkOptions struct {
	// IncludeHidden includes hidden files and directories in the walk.
	// Default is false (hidden items excluded).
	IncludeHidden bool

	// SkipHiddenDirs skips descending into hidden directories entirely.
	// Only meaningful when IncludeHidden is false.
	SkipHiddenDirs bool

	// Excludes are doublestar glob patterns (e.g. "**/*.tmp", "build/**") matched
	// against the slash-separated path relative to the walked root, and against
	// the base name.
	Excludes []string
}
