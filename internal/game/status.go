package game

// Status is the lifecycle state of a game. Transitions are enforced by
// the Start/Pause/Resume/Finish/Restart methods; nothing else mutates it.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)
