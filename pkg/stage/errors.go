// Package stage defines the structured error carried across the training and
// prediction pipeline. Every failure records the stage it originated in, its
// kind, the underlying cause and optional key/value context.
package stage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Name identifies the pipeline stage an error originated in.
type Name string

const (
	Ingest    Name = "ingest"
	Transform Name = "transform"
	Train     Name = "train"
	Predict   Name = "predict"
	Request   Name = "request"
	Artifact  Name = "artifact"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindSchemaMismatch
	KindProcessing
	KindInsufficientQuality
	KindArtifactNotFound
	KindValidation
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindIO:                  "io",
	KindSchemaMismatch:      "schema mismatch",
	KindProcessing:          "processing",
	KindInsufficientQuality: "insufficient quality",
	KindArtifactNotFound:    "artifact not found",
	KindValidation:          "validation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels usable with errors.Is. They match any *Error of the same kind.
var (
	ErrIO                  = &Error{Kind: KindIO}
	ErrSchemaMismatch      = &Error{Kind: KindSchemaMismatch}
	ErrProcessing          = &Error{Kind: KindProcessing}
	ErrInsufficientQuality = &Error{Kind: KindInsufficientQuality}
	ErrArtifactNotFound    = &Error{Kind: KindArtifactNotFound}
	ErrValidation          = &Error{Kind: KindValidation}
)

// Error is the structured pipeline error.
type Error struct {
	Stage   Name
	Kind    Kind
	Err     error
	Context map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. A target with an
// empty stage matches any stage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Stage == "" || t.Stage == e.Stage
}

// New creates an error with a fresh cause built from msg.
func New(s Name, k Kind, msg string, kv ...any) error {
	return &Error{Stage: s, Kind: k, Err: pkgerrors.New(msg), Context: toContext(kv)}
}

// Errorf creates an error with a formatted cause.
func Errorf(s Name, k Kind, format string, args ...any) error {
	return &Error{Stage: s, Kind: k, Err: pkgerrors.Errorf(format, args...)}
}

// Wrap annotates err with msg and classifies it. If err already is an *Error
// its kind and stage are kept and only the context is merged.
func Wrap(s Name, k Kind, err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		merged := toContext(kv)
		for key, v := range se.Context {
			if merged == nil {
				merged = map[string]any{}
			}
			if _, ok := merged[key]; !ok {
				merged[key] = v
			}
		}
		return &Error{Stage: se.Stage, Kind: se.Kind, Err: pkgerrors.WithMessage(se.Err, msg), Context: merged}
	}
	return &Error{Stage: s, Kind: k, Err: pkgerrors.Wrap(err, msg), Context: toContext(kv)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// StageOf returns the stage of the first *Error in err's chain.
func StageOf(err error) Name {
	var se *Error
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func toContext(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			m[key] = kv[i+1]
		} else {
			m[key] = "(missing)"
		}
	}
	return m
}
