package decode

import "errors"

// ErrContract reports a violated internal contract: a model returning a
// wrong-shaped score vector, an invalid sampler configuration, a prompt that
// does not fit the context window, or a buffer overflow. These are
// implementation bugs and are never retried.
var ErrContract = errors.New("decode: contract violation")
