package aio

import "sync"

// SubjectID identifies a registered Subject by small integer, the same
// discipline errors.go's Kind and the method package's Op enum use:
// identify behavior by a table index rather than by function pointer,
// so a reference to it survives being copied into a Handle and does
// not depend on where any particular binary loaded code.
type SubjectID int32

// NoSubject marks a handle that has not yet had a subject bound.
const NoSubject SubjectID = -1

// CallbackID identifies a registered SharedCallback by small integer.
type CallbackID int32

// Subject is the thing a handle's I/O targets: a relation file, a
// temporary file, a WAL segment. Reopen recovers a live file
// descriptor for the subject (the descriptor a handle was prepared
// against may not have survived a resource owner's teardown), and
// Describe renders a short diagnostic string for error messages and
// logging.
type Subject interface {
	Reopen() (fd int, err error)
	Describe() string
}

// SharedCallback runs at each stage of a handle's completion pipeline.
// Prepare runs synchronously while the handle is being staged, in case
// the subject needs last-moment setup (extending a file, say).
// Complete runs once per completion, on whichever goroutine pumps the
// method backend, and may adjust the raw result (short-read zero-fill,
// for instance). Report runs once per completion, right after the
// handle has reached StateCompletedShared, and is where a
// caller-visible side effect (stats, WAL flush LSN bookkeeping)
// belongs.
type SharedCallback interface {
	Prepare(h *Handle) error
	Complete(h *Handle, result DistilledResult) DistilledResult
	Report(h *Handle, result DistilledResult)
}

var (
	subjectRegistryMu sync.RWMutex
	subjectRegistry   []Subject

	callbackRegistryMu sync.RWMutex
	callbackRegistry   []SharedCallback
)

// RegisterSubject installs s in the static subject registry and
// returns the SubjectID future handles use to refer to it.
func RegisterSubject(s Subject) SubjectID {
	subjectRegistryMu.Lock()
	defer subjectRegistryMu.Unlock()
	id := SubjectID(len(subjectRegistry))
	subjectRegistry = append(subjectRegistry, s)
	return id
}

// LookupSubject resolves a SubjectID to its registered Subject, for
// callers (the read stream's cache-hint probe, diagnostics) that need
// to reach the subject without threading a reference through the
// handle machinery.
func LookupSubject(id SubjectID) (Subject, error) {
	return lookupSubject(id)
}

func lookupSubject(id SubjectID) (Subject, error) {
	if id == NoSubject {
		return nil, NewError("lookupSubject", KindAPIViolation, "handle has no subject bound")
	}
	subjectRegistryMu.RLock()
	defer subjectRegistryMu.RUnlock()
	if int(id) < 0 || int(id) >= len(subjectRegistry) {
		return nil, NewError("lookupSubject", KindAPIViolation, "subject id out of range")
	}
	return subjectRegistry[id], nil
}

// RegisterCallback installs cb in the static callback registry and
// returns the CallbackID future handles use to refer to it.
func RegisterCallback(cb SharedCallback) CallbackID {
	callbackRegistryMu.Lock()
	defer callbackRegistryMu.Unlock()
	id := CallbackID(len(callbackRegistry))
	callbackRegistry = append(callbackRegistry, cb)
	return id
}

func lookupCallback(id CallbackID) (SharedCallback, error) {
	callbackRegistryMu.RLock()
	defer callbackRegistryMu.RUnlock()
	if int(id) < 0 || int(id) >= len(callbackRegistry) {
		return nil, NewError("lookupCallback", KindAPIViolation, "callback id out of range")
	}
	return callbackRegistry[id], nil
}
