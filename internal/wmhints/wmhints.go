// Package wmhints abstracts the window-manager collaborator the dock
// talks to when expanding and collapsing. Real integrations live outside
// this repo; the dock only needs the call surface. Hint failures are
// logged and never fatal.
package wmhints

import "log"

// Hints is the window-manager call surface. Implementations may fail on
// any call; callers log and continue.
type Hints interface {
	GrabKeyboard() error
	UngrabKeyboard() error
	SetDockHeight(pixels int) error
	Focus() error
	Unfocus() error
}

// Logging is the default implementation: it records each hint and does
// nothing else, which is the correct behavior inside a plain terminal.
type Logging struct{}

func (Logging) GrabKeyboard() error {
	log.Printf("wmhints: grab keyboard")
	return nil
}

func (Logging) UngrabKeyboard() error {
	log.Printf("wmhints: ungrab keyboard")
	return nil
}

func (Logging) SetDockHeight(pixels int) error {
	log.Printf("wmhints: set dock height to %dpx", pixels)
	return nil
}

func (Logging) Focus() error {
	log.Printf("wmhints: focus")
	return nil
}

func (Logging) Unfocus() error {
	log.Printf("wmhints: unfocus")
	return nil
}
