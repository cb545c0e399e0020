package tle

// Validator turns a raw payload into a validated Record. Pure is the
// reference implementation; alternative backends may layer extra checks on
// top of it but must reject everything Pure rejects.
type Validator interface {
	Validate(text, expectedID, source string) (Record, error)
}

// Pure validates with Parse only.
type Pure struct{}

// Validate implements Validator.
func (Pure) Validate(text, expectedID, source string) (Record, error) {
	return Parse(text, expectedID, source)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(text, expectedID, source string) (Record, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(text, expectedID, source string) (Record, error) {
	return f(text, expectedID, source)
}
