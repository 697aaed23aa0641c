package repositories

import "errors"

// ErrConflict indicates a saved collection repeats an id.
var ErrConflict = errors.New("record conflict")
