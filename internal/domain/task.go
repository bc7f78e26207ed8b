package domain

import "sort"

// AgentKind names the agent variant responsible for a sub-task.
type AgentKind string

// Known agent kinds. Decomposition may emit other values; those have no
// registered agent and are skipped by dispatch.
const (
	AgentDocument AgentKind = "document"
	AgentAPI      AgentKind = "api"
	AgentData     AgentKind = "data"
)

// Valid reports whether k is one of the known agent kinds.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentDocument, AgentAPI, AgentData:
		return true
	}
	return false
}

// Task is one decomposed unit of work. Lower priority values run first.
type Task struct {
	Description string    `json:"task"`
	Kind        AgentKind `json:"agent"`
	Priority    int       `json:"priority"`
}

// SortTasks orders tasks by ascending priority, keeping emission order on ties.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority < tasks[j].Priority
	})
}
