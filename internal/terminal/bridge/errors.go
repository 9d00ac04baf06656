package bridge

import "fmt"

// Terminal last_error codes, as returned by the gateway's initialize and
// symbol calls.
const (
	ResOK                     = 1
	ResEFail                  = -1
	ResEInvalidParams         = -2
	ResENoMemory              = -3
	ResENotFound              = -4
	ResEInvalidVersion        = -5
	ResEAuthFailed            = -6
	ResEUnsupported           = -7
	ResEAutoTradingDisabled   = -8
	ResEInternalFail          = -10000
	ResEInternalFailSend      = -10001
	ResEInternalFailReceive   = -10002
	ResEInternalFailInit      = -10003
	ResEInternalFailConnect   = -10004
	ResEInternalFailTimeout   = -10005
)

var errorMessages = map[int]string{
	ResEFail:                "generic fail",
	ResEInvalidParams:       "invalid arguments/parameters",
	ResENoMemory:            "no memory condition",
	ResENotFound:            "no history",
	ResEInvalidVersion:      "invalid version",
	ResEAuthFailed:          "authorization failed",
	ResEUnsupported:         "unsupported method",
	ResEAutoTradingDisabled: "auto-trading disabled",
	ResEInternalFail:        "internal IPC general error",
	ResEInternalFailSend:    "internal IPC send failed",
	ResEInternalFailReceive: "internal IPC recv failed",
	ResEInternalFailInit:    "internal IPC initialization fail",
	ResEInternalFailConnect: "internal IPC no ipc",
	ResEInternalFailTimeout: "internal timeout",
}

// ConnectionError is a terminal bring-up failure carrying the terminal's
// last-error code.
type ConnectionError struct {
	Code int
}

func (e *ConnectionError) Error() string {
	if msg, ok := errorMessages[e.Code]; ok {
		return fmt.Sprintf("terminal connection failed: %s", msg)
	}
	return fmt.Sprintf("terminal connection failed: unknown error code %d", e.Code)
}

// SymbolError reports a symbol that could not be selected in Market Watch.
type SymbolError struct {
	Symbol string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("could not select symbol %s in Market Watch", e.Symbol)
}
