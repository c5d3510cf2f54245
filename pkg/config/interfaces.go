package config

// Validator is implemented by configurations that can validate themselves.
type Validator interface {
	Validate() error
}
