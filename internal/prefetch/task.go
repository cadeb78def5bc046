package prefetch

import "fmt"

type Task struct {
	PartyID string
}

func (t Task) String() string {
	return fmt.Sprintf("party/%s", t.PartyID)
}

type TaskResult struct {
	Task        Task
	Success     bool
	Empty       bool
	RateLimited bool
	Events      int
	New         int
	Pages       int
	Error       error
}
