package model

type RunStatus string

const (
	StatusCompleted   RunStatus = "completed"
	StatusInterrupted RunStatus = "interrupted"
	StatusFailed      RunStatus = "failed"
)

// ExitCode 进程退出码: Completed 0, Failed 1, Interrupted 3(可恢复)
func (s RunStatus) ExitCode() int {
	switch s {
	case StatusCompleted:
		return 0
	case StatusInterrupted:
		return 3
	default:
		return 1
	}
}
