package joku

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCogAlreadyLoaded is returned when a cog with the same name has
	// already been registered on the bot.
	ErrCogAlreadyLoaded = errors.New("cog already loaded")

	// ErrUnknownCog is returned when a cog name has no registered builder.
	ErrUnknownCog = errors.New("unknown cog")

	// ErrStoreNotConnected indicates an adapter operation was attempted
	// before its connection was established.
	ErrStoreNotConnected = errors.New("store not connected")
)

// FatalBootError wraps an adapter connection failure during the on-ready
// startup sequence. It terminates the session - there is no retry policy
// for a database that isn't there at boot.
type FatalBootError struct {
	Adapter string
	Err     error
}

func (e *FatalBootError) Error() string {
	return fmt.Sprintf("fatal boot error (%s): %s", e.Adapter, e.Err)
}

func (e *FatalBootError) Unwrap() error {
	return e.Err
}

// TransportClosed is returned by the gateway loop when the connection
// closes. Code 1000 is a normal closure; anything else is abnormal and
// propagates out of Run.
type TransportClosed struct {
	Code int
	Err  error
}

func (e *TransportClosed) Error() string {
	return fmt.Sprintf("gateway closed (code %d): %v", e.Code, e.Err)
}

func (e *TransportClosed) Unwrap() error {
	return e.Err
}

// Normal reports whether the close code indicates a clean shutdown.
func (e *TransportClosed) Normal() bool {
	return e.Code == closeCodeNormal
}

// HandlerInternalError wraps any error (or recovered panic) that escaped a
// command handler body. The underlying cause, not the wrapper, is what gets
// logged and relayed to the error channel.
type HandlerInternalError struct {
	Command string
	Err     error
	Stack   []byte
}

func (e *HandlerInternalError) Error() string {
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *HandlerInternalError) Unwrap() error {
	return e.Err
}

// CheckFailed is returned when a command precondition rejects the
// invocation. Reason is echoed back to the user verbatim.
type CheckFailed struct {
	Reason string
}

func (e *CheckFailed) Error() string {
	return e.Reason
}

// MissingArgument is returned when a required command argument was not
// supplied.
type MissingArgument struct {
	Argument string
}

func (e *MissingArgument) Error() string {
	return fmt.Sprintf("%s is a required argument that is missing", e.Argument)
}

// CooldownActive is returned when a command's cooldown bucket hasn't
// expired yet.
type CooldownActive struct {
	Bucket     string
	RetryAfter time.Duration
}

func (e *CooldownActive) Error() string {
	return fmt.Sprintf(
		"command on cooldown (bucket %q), retry after %.1fs",
		e.Bucket, e.RetryAfter.Seconds(),
	)
}

// CogLoadError wraps a failure to load a single cog from the autoload
// list. These are logged and skipped - one broken cog doesn't take the
// rest down with it.
type CogLoadError struct {
	Cog string
	Err error
}

func (e *CogLoadError) Error() string {
	return fmt.Sprintf("failed to load cog %q: %v", e.Cog, e.Err)
}

func (e *CogLoadError) Unwrap() error {
	return e.Err
}
