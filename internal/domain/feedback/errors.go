package feedback

import "errors"

// ErrInvalidWeights is returned for weights that are not a distribution.
var ErrInvalidWeights = errors.New("invalid dimension weights")
