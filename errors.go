package corpuschat

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("corpuschat: invalid configuration")

	// ErrNoCorpus is returned when an engine is constructed without a
	// corpus and without a populated database to load one from.
	ErrNoCorpus = errors.New("corpuschat: no corpus configured")
)
