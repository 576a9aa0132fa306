package model

import "errors"

// ErrInvalidCritique is returned by QACritique.Validate when a critique does
// not round-trip through its schema invariants. Callers must route this to
// the recovery chain as a Tool/ParseError, never silently coerce it to Fail.
var ErrInvalidCritique = errors.New("model: critique failed schema validation")
