package env

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/actorkit/pkg/dispatch"
)

// ExceptionReaction names the environment-wide policy applied to a
// handler panic/error that the owning agent did not itself resolve via a
// synchronous-request Resolve callback.
type ExceptionReaction int

const (
	AbortOnException ExceptionReaction = iota
	ShutdownOnException
	IgnoreException
)

func (r ExceptionReaction) String() string {
	switch r {
	case ShutdownOnException:
		return "shutdown_on_exception"
	case IgnoreException:
		return "ignore_exception"
	default:
		return "abort_on_exception"
	}
}

// DispatcherSpec declares one named dispatcher the environment creates in
// New and starts at Launch time.
type DispatcherSpec struct {
	Name    string       `yaml:"name"`
	Kind    dispatch.Kind `yaml:"kind"`
	Workers int          `yaml:"workers"`
}

// Params is the environment's configuration: named dispatchers plus the
// default exception reaction. It can be built directly in Go or loaded
// from a declarative YAML document via LoadParamsYAML.
type Params struct {
	Dispatchers       []DispatcherSpec
	ExceptionReaction ExceptionReaction
}

// yamlParams is the on-disk shape LoadParamsYAML decodes, kept distinct
// from Params since ExceptionReaction is a string in the document but an
// enum in Go.
type yamlParams struct {
	Dispatchers       []DispatcherSpec `yaml:"dispatchers"`
	ExceptionReaction string           `yaml:"exception_reaction"`
}

// LoadParamsYAML reads a declarative params document: a list of named
// dispatchers and the default exception reaction, for embedders who
// prefer config-as-data over the Go-callback configurator.
func LoadParamsYAML(r io.Reader) (*Params, error) {
	var doc yamlParams
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode environment params: %w", err)
	}

	p := &Params{Dispatchers: doc.Dispatchers}
	switch doc.ExceptionReaction {
	case "shutdown_on_exception":
		p.ExceptionReaction = ShutdownOnException
	case "ignore_exception":
		p.ExceptionReaction = IgnoreException
	default:
		p.ExceptionReaction = AbortOnException
	}
	return p, nil
}

// buildDispatcher instantiates the concrete dispatcher named by spec.Kind.
func buildDispatcher(spec DispatcherSpec) (dispatch.Dispatcher, error) {
	switch spec.Kind {
	case dispatch.OneThreadKind:
		return dispatch.NewOneThread(spec.Name), nil
	case dispatch.ActiveObjectKind:
		return dispatch.NewActiveObject(spec.Name), nil
	case dispatch.ActiveGroupKind:
		return dispatch.NewActiveGroup(spec.Name), nil
	case dispatch.ThreadPoolKind:
		return dispatch.NewThreadPool(spec.Name, spec.Workers, dispatch.CooperativeFIFO), nil
	case dispatch.AdvancedThreadPoolKind:
		return dispatch.NewAdvancedThreadPool(spec.Name, spec.Workers), nil
	case dispatch.SingleThreadedNotMTSafeKind:
		return dispatch.NewSingleThreadedNotMTSafe(spec.Name), nil
	default:
		return nil, fmt.Errorf("unknown dispatcher kind %q for %q", spec.Kind, spec.Name)
	}
}
