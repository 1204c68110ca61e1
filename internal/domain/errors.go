package domain

import "errors"

var (
	// ErrNotFound is returned by resolvers when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTranslatorUnavailable marks a translation failure that affects every
	// request, such as an unreachable endpoint or an unsupported target language.
	ErrTranslatorUnavailable = errors.New("translator unavailable")
)
