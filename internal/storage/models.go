package storage

import "time"

// Generation is the record of one finished generation task: the task
// prompt, the finalized text (stop marker already stripped), and how many
// gateway calls the task took.
type Generation struct {
	ID        string // UUID
	Prompt    string
	Model     string
	Calls     int
	Text      string
	CreatedAt time.Time
}
