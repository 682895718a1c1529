package parser

import (
	"errors"
	"fmt"
)

// Reason classifies why a report block was rejected.
type Reason string

const (
	ReasonNotAReport           Reason = "not-a-report"
	ReasonMissingRequiredField Reason = "missing-required-field"
)

var (
	// ErrNotAReport matches any ParseFailure with ReasonNotAReport.
	ErrNotAReport = errors.New("not an IP SLA aggregated statistics report")
	// ErrMissingRequiredField matches any ParseFailure with ReasonMissingRequiredField.
	ErrMissingRequiredField = errors.New("missing required field")
)

// ParseFailure is returned for a text (or one block of it) that cannot
// produce a record. Block is the zero-based block index, or -1 when the
// failure concerns the whole text.
type ParseFailure struct {
	Reason Reason
	Field  string
	Block  int
	Detail string
}

func (f *ParseFailure) Error() string {
	msg := string(f.Reason)
	if f.Block >= 0 {
		msg = fmt.Sprintf("block %d: %s", f.Block, msg)
	}
	if f.Field != "" {
		msg += " " + f.Field
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	return msg
}

// Is lets errors.Is match a ParseFailure against the package sentinels.
func (f *ParseFailure) Is(target error) bool {
	switch target {
	case ErrNotAReport:
		return f.Reason == ReasonNotAReport
	case ErrMissingRequiredField:
		return f.Reason == ReasonMissingRequiredField
	}
	return false
}

// Failures unpacks err into the ParseFailures it carries.
func Failures(err error) []*ParseFailure {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*ParseFailure
		for _, e := range joined.Unwrap() {
			out = append(out, Failures(e)...)
		}
		return out
	}
	var f *ParseFailure
	if errors.As(err, &f) {
		return []*ParseFailure{f}
	}
	return nil
}
