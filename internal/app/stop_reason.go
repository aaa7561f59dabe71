package app

// StopReason says why the app is shutting down; it ends up in logs and the
// shutdown notice.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopOneShot    StopReason = "one_shot"
)
