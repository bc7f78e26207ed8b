package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortTasks_AscendingAndStable(t *testing.T) {
	tasks := []Task{
		{Description: "c", Kind: AgentData, Priority: 3},
		{Description: "a1", Kind: AgentAPI, Priority: 1},
		{Description: "b1", Kind: AgentDocument, Priority: 2},
		{Description: "a2", Kind: AgentDocument, Priority: 1},
		{Description: "b2", Kind: AgentAPI, Priority: 2},
	}
	SortTasks(tasks)

	var got []string
	for _, tk := range tasks {
		got = append(got, tk.Description)
	}
	assert.Equal(t, []string{"a1", "a2", "b1", "b2", "c"}, got)
}

func TestSortTasks_Empty(t *testing.T) {
	var tasks []Task
	SortTasks(tasks)
	assert.Empty(t, tasks)
}

func TestAgentKindValid(t *testing.T) {
	assert.True(t, AgentDocument.Valid())
	assert.True(t, AgentAPI.Valid())
	assert.True(t, AgentData.Valid())
	assert.False(t, AgentKind("weather").Valid())
	assert.False(t, AgentKind("").Valid())
}
