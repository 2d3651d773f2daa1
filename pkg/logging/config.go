package logging

const (
	BaseDataDir   = "data"
	LogsDir       = "logs"
	LogFileFormat = "2006-01-02.log" // for daily files
	TimeFormat    = "2006-01-02 15:04:05"
)

// ProcessName type to ensure valid process names
type ProcessName string

const (
	GovernorProcess ProcessName = "governord"
	ProbeProcess    ProcessName = "probe"
	TestProcess     ProcessName = "test"
)

type LoggerConfig struct {
	LogDir        string
	ProcessName   ProcessName
	IsDevelopment bool
}

func NewDefaultConfig(processName ProcessName) LoggerConfig {
	return LoggerConfig{
		LogDir:        BaseDataDir,
		ProcessName:   processName,
		IsDevelopment: true,
	}
}
