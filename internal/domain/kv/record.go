package kv

// Source tells where a read was served from.
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
)

// ReadResult is the successful outcome of a read.
type ReadResult struct {
	Value  string
	Source Source
}

// ValidateKey rejects the empty key. Any other byte string, whitespace
// included, is a valid key.
func ValidateKey(key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	return nil
}

// ValidateRecord checks the inputs of a create.
func ValidateRecord(key string, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if value == "" {
		return ErrValueRequired
	}
	return nil
}
