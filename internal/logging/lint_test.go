package logging

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var directLogging = []*regexp.Regexp{
	regexp.MustCompile(`\bfmt\.Print(f|ln)?\s*\(`),
	regexp.MustCompile(`\blog\.Print(f|ln)?\s*\(`),
	regexp.MustCompile(`^\s*print(ln)?\s*\(`),
}

// Directories never scanned.
var skipDirs = map[string]bool{
	"_examples": true,
	"vendor":    true,
	"docs":      true,
	".git":      true,
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	for dir := filepath.Dir(file); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, dir, parent, "go.mod not found above %s", file)
		dir = parent
	}
}

func scanFile(path, rel string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var found []string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		for _, re := range directLogging {
			if re.MatchString(line) {
				found = append(found, fmt.Sprintf("%s:%d: %s", rel, n, strings.TrimSpace(line)))
				break
			}
		}
	}
	return found, sc.Err()
}

// Everything outside tests and main.go logs through this package; commands
// write user output with fmt.Fprint* to an explicit writer.
func TestNoDirectLogging(t *testing.T) {
	root := moduleRoot(t)

	var violations []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") || name == "main.go" {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		found, err := scanFile(path, rel)
		violations = append(violations, found...)
		return err
	})
	require.NoError(t, err)

	if len(violations) > 0 {
		t.Errorf("direct logging calls found, use the logging package instead:\n%s", strings.Join(violations, "\n"))
	}
}
