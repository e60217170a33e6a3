package fs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"imgsearch/internal/port"
)

// Walker lists image files under a root directory.
// Extensions are matched case-insensitively.
type Walker struct {
	includes []string
	excludes []string
}

// NewWalker builds a walker that keeps files ending in one of extensions
// (".png" or "png") and drops paths matching any exclude pattern.
func NewWalker(extensions, excludes []string) *Walker {
	if len(extensions) == 0 {
		extensions = []string{".png"}
	}
	includes := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		includes = append(includes, ExtensionPattern(ext))
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// ExtensionPattern returns the recursive include pattern for ext.
func ExtensionPattern(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return "**/*" + ext
}

func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	var files []port.FileInfo

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if relPath != "." && w.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldInclude(relPath) && !w.shouldExclude(relPath) {
			files = append(files, port.FileInfo{
				Path:    path,
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
			})
		}

		return nil
	})

	return files, err
}

func (w *Walker) shouldInclude(path string) bool {
	// Patterns are lowercase; fold only the file extension so directory
	// names keep their case for exclude matching.
	folded := strings.TrimSuffix(path, filepath.Ext(path)) + strings.ToLower(filepath.Ext(path))
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, folded)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
