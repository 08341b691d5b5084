package testutil

// FixedSessionGenerator returns the same session id every time, so
// scenarios may load any number of bots with stable output.
//
// Thread-safety: stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	token string
}

// NewFixedSessionGenerator returns a generator always yielding token.
func NewFixedSessionGenerator(token string) FixedSessionGenerator {
	return FixedSessionGenerator{token: token}
}

// Generate returns the fixed token.
func (g FixedSessionGenerator) Generate() string {
	return g.token
}
