package codes

// Connection Status Codes
const (
	StatusClosed       = "closed"
	StatusConnecting   = "connecting"
	StatusBound        = "bound"
	StatusUnbinding    = "unbinding"
	StatusDisconnected = "disconnected"
)

// Submission Error Codes
const (
	ErrorCodeNotConnected = "NOT_CONNECTED"
	ErrorCodeSubmitFailed = "SUBMIT_FAILED"
	ErrorCodeMnoTimeout   = "MNO_TIMEOUT"
)
