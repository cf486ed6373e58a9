package errcode

// Code is a stable, link-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Rejected       Code = "rejected"
	InvalidParams  Code = "invalid_params"
	UnknownCommand Code = "unknown_command"
	NotReady       Code = "not_ready"
	SetupMode      Code = "setup_mode"
	Timeout        Code = "timeout"

	// Flash primitive failures.
	FlashBounds Code = "flash_bounds"
	FlashAlign  Code = "flash_align"
	FlashFault  Code = "flash_fault"

	// A persisted record failed validation at decode time.
	RecordCorrupt Code = "record_corrupt"

	// Bootloader transfer aborts. Each maps to one wire error byte.
	BootBadMarker  Code = "boot_bad_marker"
	BootOutOfOrder Code = "boot_out_of_order"
	BootChecksum   Code = "boot_checksum"
	BootOversize   Code = "boot_oversize"
	BootOverflow   Code = "boot_overflow"
	BootTimeout    Code = "boot_timeout"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
