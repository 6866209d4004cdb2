package unityyaml

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// createAssetMenu matches the C# attribute naming a ScriptableObject factory,
// with or without arguments.
var createAssetMenu = regexp.MustCompile(`\[\s*CreateAssetMenu\b(?:\s*\(\s*(?:[^)]*\bmenuName\s*=\s*"([^"]*)")?[^)]*\))?`)

// ScanScript inspects a .cs file for a [CreateAssetMenu] attribute. The
// return value is the declared menuName (or "CreateAssetMenu" when present
// without one), empty when the attribute is absent. No further C# parsing
// happens; the script's GUID comes from its .meta companion.
func ScanScript(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "CreateAssetMenu") {
			continue
		}
		if m := createAssetMenu.FindStringSubmatch(line); m != nil {
			if m[1] != "" {
				return m[1], nil
			}
			return "CreateAssetMenu", nil
		}
	}
	return "", scanner.Err()
}
