package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/neohoj/iruka-worker/internal/tasktree"
)

// Binding is the resolved (input, expected output) file pair for one task,
// derived from "<root>/<problem_id>/<label>.in" and ".out".
type Binding struct {
	InputPath          string
	ExpectedOutputPath string
}

// BindTestdata resolves every task's binding under testdataRoot/problemID
// and verifies both files exist and are regular files. Any path that is
// missing or not a regular file is returned in missing; callers must abort
// the submission if missing is non-empty, rather than trusting a
// partially-resolved binding map.
func BindTestdata(testdataRoot, problemID string, spec *tasktree.TaskSpec) (map[string]Binding, []string, error) {
	base := filepath.Join(testdataRoot, problemID)
	bindings := make(map[string]Binding)
	var missing []string

	for _, g := range spec.Groups {
		for _, task := range g.Tasks {
			in := filepath.Join(base, task.Label+".in")
			out := filepath.Join(base, task.Label+".out")

			if !isRegularFile(in) {
				missing = append(missing, in)
			}
			if !isRegularFile(out) {
				missing = append(missing, out)
			}

			bindings[task.Label] = Binding{InputPath: in, ExpectedOutputPath: out}
		}
	}

	if len(missing) > 0 {
		return bindings, missing, fmt.Errorf("pipeline: %d testdata file(s) missing for problem %q", len(missing), problemID)
	}
	return bindings, nil, nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
