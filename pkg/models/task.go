package models

// TaskStatus is the lifecycle state of a client-side download
type TaskStatus string

const (
	TaskStatusInitializing TaskStatus = "initializing"
	TaskStatusDownloading  TaskStatus = "downloading"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusError        TaskStatus = "error"
)

// IsFinished returns true for the terminal states
func (s TaskStatus) IsFinished() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// DownloadReadyNotice replaces the file size once polling stops on an error
const DownloadReadyNotice = "Download ready"

// DownloadTask is the ephemeral record of one in-flight download. It is owned
// by the session that created it and only the status poller mutates it.
type DownloadTask struct {
	ID           string      `json:"id"`
	URL          string      `json:"url"`
	Format       MediaFormat `json:"format"`
	Status       TaskStatus  `json:"status"`
	Progress     float64     `json:"progress"`
	Speed        string      `json:"speed,omitempty"`
	ETA          string      `json:"eta,omitempty"`
	RealTime     bool        `json:"realTime"`
	FileSize     string      `json:"fileSize,omitempty"`
	IsMuxed      bool        `json:"isMuxed,omitempty"`
	VideoQuality string      `json:"videoQuality,omitempty"`
	AudioQuality string      `json:"audioQuality,omitempty"`
	AudioCodec   string      `json:"audioCodec,omitempty"`
}

// NewDownloadTask creates a task in the initializing state
func NewDownloadTask(id, url string, format MediaFormat) *DownloadTask {
	return &DownloadTask{
		ID:       id,
		URL:      url,
		Format:   format,
		Status:   TaskStatusInitializing,
		RealTime: true,
	}
}

// Apply copies a real-time status payload into the task
func (t *DownloadTask) Apply(s *StatusResponse) {
	t.Progress = s.Progress
	t.Status = s.Status
	t.Speed = s.Speed
	t.ETA = s.ETA
	t.FileSize = s.FileSize
	t.IsMuxed = s.IsMuxed
	t.VideoQuality = s.VideoQuality
	t.AudioQuality = s.AudioQuality
	t.AudioCodec = s.AudioCodec
	t.RealTime = true
}
