package dispatch

// Level is the severity of a notice
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a message for the user. Persistent notices stay until dismissed.
type Notice struct {
	Level      Level
	Message    string
	Persistent bool
}

// Presenter is the user-facing side of delivery
type Presenter interface {
	Notify(n Notice)
	OpenURL(url string) error
	CopyToClipboard(text string) error
	ShowManualInstructions(message string, instructions []string)
}
