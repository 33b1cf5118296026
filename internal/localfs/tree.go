package localfs

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// NodeKind distinguishes folders from files.
type NodeKind int

const (
	KindFolder NodeKind = iota
	KindFile
)

func (k NodeKind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// FileSystemNode is one entry of an upload tree.
//
// RelativePath is slash-separated and starts with the base name of the walked
// root, so the root folder itself has RelativePath == Name. The parent of a node
// is path.Dir(RelativePath); "." means the upload destination.
type FileSystemNode struct {
	Kind         NodeKind
	Name         string
	RelativePath string
	AbsolutePath string
	Size         int64
}

// ParentPath returns the RelativePath of the node's parent folder, "." for the root.
func (n FileSystemNode) ParentPath() string {
	return path.Dir(n.RelativePath)
}

// BuildUploadTree walks root and returns its folders ordered by depth, followed by
// its regular files. Symlinks and other non-regular entries are skipped, as are
// entries that cannot be read.
func BuildUploadTree(root string, opts WalkOptions) ([]FileSystemNode, error) {
	for _, pattern := range opts.Excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	rootName := filepath.Base(absRoot)
	var folders, files []FileSystemNode

	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absRoot {
				return err
			}
			// Unreadable entries are skipped
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		if p != absRoot {
			name := d.Name()
			if !opts.IncludeHidden && IsHiddenName(name) {
				if d.IsDir() && opts.SkipHiddenDirs {
					return filepath.SkipDir
				}
				if !d.IsDir() {
					return nil
				}
			}
			if excluded(opts.Excludes, relSlash, name) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		nodePath := rootName
		if relSlash != "." {
			nodePath = rootName + "/" + relSlash
		}

		switch {
		case d.IsDir():
			folders = append(folders, FileSystemNode{
				Kind:         KindFolder,
				Name:         d.Name(),
				RelativePath: nodePath,
				AbsolutePath: p,
			})
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			files = append(files, FileSystemNode{
				Kind:         KindFile,
				Name:         d.Name(),
				RelativePath: nodePath,
				AbsolutePath: p,
				Size:         fi.Size(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Parents before children
	sort.SliceStable(folders, func(i, j int) bool {
		di, dj := depth(folders[i].RelativePath), depth(folders[j].RelativePath)
		if di != dj {
			return di < dj
		}
		return folders[i].RelativePath < folders[j].RelativePath
	})

	return append(folders, files...), nil
}

func excluded(patterns []string, relPath, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func depth(relPath string) int {
	return strings.Count(relPath, "/")
}

// TotalSize returns the sum of file sizes in nodes.
func TotalSize(nodes []FileSystemNode) int64 {
	var total int64
	for _, n := range nodes {
		if n.Kind == KindFile {
			total += n.Size
		}
	}
	return total
}

// CountFiles returns the number of file nodes.
func CountFiles(nodes []FileSystemNode) int {
	count := 0
	for _, n := range nodes {
		if n.Kind == KindFile {
			count++
		}
	}
	return count
}
