package harness

import (
	"github.com/roach88/provtrace/internal/compiler"
	"github.com/roach88/provtrace/internal/prov"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Document is the compiled graph.
	Document *prov.Document `json:"-"`

	// Stats are the compiler's counters.
	Stats compiler.Stats `json:"stats"`

	// Errors holds one message per failed check.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
