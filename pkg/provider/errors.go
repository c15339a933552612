package provider

import "fmt"

// TokenLimitError reports a prompt that cannot fit any model's context
// window. It is fatal for the whole request: retrying another provider
// cannot make the prompt shorter.
type TokenLimitError struct {
	Provider  string
	Model     string
	Estimated int
	Limit     int
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf("%s: prompt of ~%d tokens exceeds %s context window of %d",
		e.Provider, e.Estimated, e.Model, e.Limit)
}
