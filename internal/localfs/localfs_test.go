package localfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden", true},
		{".gitignore", true},
		{"visible.txt", false},
		{"/path/to/.hidden", true},
		{"/path/to/visible.txt", false},
		{"../.hidden", true},
		{"..", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsHidden(tt.path))
		})
	}
}

// makeTree creates:
//
//	photos/
//	  a.jpg        (3 bytes)
//	  .DS_Store
//	  2024/
//	    b.jpg      (5 bytes)
//	    tmp/x.tmp
//	  .cache/c.bin
//	  empty/
func makeTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "photos")
	files := map[string]string{
		"a.jpg":          "abc",
		".DS_Store":      "x",
		"2024/b.jpg":     "hello",
		"2024/tmp/x.tmp": "t",
		".cache/c.bin":   "c",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	return root
}

func relPaths(nodes []FileSystemNode, kind NodeKind) []string {
	var out []string
	for _, n := range nodes {
		if n.Kind == kind {
			out = append(out, n.RelativePath)
		}
	}
	return out
}

func TestBuildUploadTree(t *testing.T) {
	root := makeTree(t)

	nodes, err := BuildUploadTree(root, WalkOptions{SkipHiddenDirs: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"photos", "photos/2024", "photos/empty", "photos/2024/tmp"}, relPaths(nodes, KindFolder))
	assert.ElementsMatch(t, []string{"photos/a.jpg", "photos/2024/b.jpg", "photos/2024/tmp/x.tmp"}, relPaths(nodes, KindFile))

	// Folders precede files
	seenFile := false
	for _, n := range nodes {
		if n.Kind == KindFile {
			seenFile = true
		} else {
			assert.False(t, seenFile, "folder %s after a file", n.RelativePath)
		}
	}

	assert.Equal(t, int64(3+5+1), TotalSize(nodes))
	assert.Equal(t, 3, CountFiles(nodes))

	for _, n := range nodes {
		if n.RelativePath == "photos/2024/b.jpg" {
			assert.Equal(t, "b.jpg", n.Name)
			assert.Equal(t, "photos/2024", n.ParentPath())
			assert.Equal(t, filepath.Join(root, "2024", "b.jpg"), n.AbsolutePath)
		}
		if n.RelativePath == "photos" {
			assert.Equal(t, ".", n.ParentPath())
		}
	}
}

func TestBuildUploadTreeHiddenFiles(t *testing.T) {
	root := makeTree(t)

	t.Run("include hidden", func(t *testing.T) {
		nodes, err := BuildUploadTree(root, WalkOptions{IncludeHidden: true})
		require.NoError(t, err)
		assert.Contains(t, relPaths(nodes, KindFile), "photos/.DS_Store")
		assert.Contains(t, relPaths(nodes, KindFile), "photos/.cache/c.bin")
	})

	t.Run("hidden dirs walked but hidden files dropped", func(t *testing.T) {
		nodes, err := BuildUploadTree(root, WalkOptions{})
		require.NoError(t, err)
		assert.Contains(t, relPaths(nodes, KindFolder), "photos/.cache")
		assert.NotContains(t, relPaths(nodes, KindFile), "photos/.DS_Store")
		assert.Contains(t, relPaths(nodes, KindFile), "photos/.cache/c.bin")
	})
}

func TestBuildUploadTreeExcludes(t *testing.T) {
	root := makeTree(t)

	nodes, err := BuildUploadTree(root, WalkOptions{
		SkipHiddenDirs: true,
		Excludes:       []string{"*.tmp", "empty"},
	})
	require.NoError(t, err)
	assert.NotContains(t, relPaths(nodes, KindFile), "photos/2024/tmp/x.tmp")
	assert.NotContains(t, relPaths(nodes, KindFolder), "photos/empty")

	nodes, err = BuildUploadTree(root, WalkOptions{
		SkipHiddenDirs: true,
		Excludes:       []string{"2024/**"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"photos/a.jpg"}, relPaths(nodes, KindFile))
}

func TestBuildUploadTreeErrors(t *testing.T) {
	root := makeTree(t)

	_, err := BuildUploadTree(filepath.Join(root, "a.jpg"), WalkOptions{})
	assert.Error(t, err)

	_, err = BuildUploadTree(filepath.Join(root, "missing"), WalkOptions{})
	assert.True(t, os.IsNotExist(err))

	_, err = BuildUploadTree(root, WalkOptions{Excludes: []string{"[unclosed"}})
	assert.Error(t, err)
}
