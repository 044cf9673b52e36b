// Package tasktree expands a flat tabular task description into an ordered
// tree of task groups and tasks, the shape the pipeline orchestrator walks
// in order.
package tasktree

import "fmt"

// Task is an atomic unit of execution.
type Task struct {
	Label       string
	TimeLimitMs int64
	MemLimitKiB int64
	// Fallthrough: a non-AC verdict on this task does not zero its group's score.
	Fallthrough bool
}

// TaskGroup is an ordered collection of Tasks sharing a score cap. Group 0
// holds sample tasks and is informational; its ScoreMax is ignored.
type TaskGroup struct {
	Index    int
	Tasks    []Task
	ScoreMax int64
}

// TaskSpec is the whole task tree for one submission.
type TaskSpec struct {
	Groups []TaskGroup
}

// Flatten returns every task across every group, in tree order (group
// ascending, task ascending within group).
func (s *TaskSpec) Flatten() []struct {
	GroupIndex int
	Task       Task
} {
	var out []struct {
		GroupIndex int
		Task       Task
	}
	for _, g := range s.Groups {
		for _, t := range g.Tasks {
			out = append(out, struct {
				GroupIndex int
				Task       Task
			}{g.Index, t})
		}
	}
	return out
}

// reader walks a flat sequence of integer records, the wire shape the
// dispatcher sends: a header row, per-sample limit rows, then per-group
// header/opencase/limit rows.
type reader struct {
	rows [][]int64
	pos  int
}

func (r *reader) next(expectedLen int, what string) ([]int64, error) {
	if r.pos >= len(r.rows) {
		return nil, fmt.Errorf("tasktree: expected %s, ran out of records", what)
	}
	row := r.rows[r.pos]
	r.pos++
	if len(row) != expectedLen {
		return nil, fmt.Errorf("tasktree: %s has %d fields, want %d", what, len(row), expectedLen)
	}
	return row, nil
}

// Build expands a flat record set into a TaskSpec. records[0] must be the
// header row (num_samples, num_groups); any deviation from the expected
// record shape is a definitional error returned to the caller, not a panic.
func Build(records [][]int64) (*TaskSpec, error) {
	r := &reader{rows: records}

	header, err := r.next(2, "header row")
	if err != nil {
		return nil, err
	}
	numSamples, numGroups := header[0], header[1]

	var groups []TaskGroup

	if numSamples > 0 {
		samples := TaskGroup{Index: 0}
		for i := int64(0); i < numSamples; i++ {
			row, err := r.next(2, fmt.Sprintf("sample %d limit row", i))
			if err != nil {
				return nil, err
			}
			samples.Tasks = append(samples.Tasks, Task{
				Label:       sampleLabel(numSamples, i),
				TimeLimitMs: row[0],
				MemLimitKiB: row[1],
			})
		}
		groups = append(groups, samples)
	} else {
		groups = append(groups, TaskGroup{Index: 0})
	}

	for g := int64(0); g < numGroups; g++ {
		groupIndex := int(g + 1)
		ghead, err := r.next(3, fmt.Sprintf("group %d header row", groupIndex))
		if err != nil {
			return nil, err
		}
		numTasks, hasOpencase, scoreMax := ghead[0], ghead[1], ghead[2]

		group := TaskGroup{Index: groupIndex, ScoreMax: scoreMax}

		if hasOpencase != 0 {
			row, err := r.next(2, fmt.Sprintf("group %d opencase limit row", groupIndex))
			if err != nil {
				return nil, err
			}
			group.Tasks = append(group.Tasks, Task{
				Label:       fmt.Sprintf("%d-ocen", groupIndex),
				TimeLimitMs: row[0],
				MemLimitKiB: row[1],
				Fallthrough: true,
			})
		}

		for j := int64(0); j < numTasks; j++ {
			row, err := r.next(2, fmt.Sprintf("group %d task %d limit row", groupIndex, j))
			if err != nil {
				return nil, err
			}
			group.Tasks = append(group.Tasks, Task{
				Label:       realLabel(groupIndex, numTasks, j),
				TimeLimitMs: row[0],
				MemLimitKiB: row[1],
			})
		}

		groups = append(groups, group)
	}

	if r.pos != len(r.rows) {
		return nil, fmt.Errorf("tasktree: %d trailing records after building spec", len(r.rows)-r.pos)
	}

	return &TaskSpec{Groups: groups}, nil
}

func sampleLabel(numSamples, i int64) string {
	if numSamples > 1 {
		return fmt.Sprintf("0-%d", i+1)
	}
	return "0"
}

func realLabel(groupIndex int, numTasks, j int64) string {
	if numTasks > 1 {
		return fmt.Sprintf("%d-%d", groupIndex, j+1)
	}
	return fmt.Sprintf("%d", groupIndex)
}

// Count returns the total number of tasks in the tree:
// num_samples plus, for each group, num_tasks plus its opencase.
func Count(s *TaskSpec) int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Tasks)
	}
	return n
}
