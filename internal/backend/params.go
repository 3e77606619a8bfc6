package backend

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/Zereker/sigsock/internal/contract"
)

// ParamSpec declares a processing parameter. A spec with Choices only accepts
// one of them and defaults to the first; otherwise any value is accepted.
type ParamSpec struct {
	Name    string
	Default string
	Choices []string
}

func (s ParamSpec) defaultValue() string {
	if len(s.Choices) > 0 {
		return s.Choices[0]
	}
	return s.Default
}

// DefaultParams is the parameter set of the processing backend.
var DefaultParams = []ParamSpec{
	{Name: "det_size", Default: "640x640"},
	{Name: "new_member_prefix", Default: "member_"},
	{Name: "whisper_model", Choices: []string{"base", "tiny", "small", "medium", "large"}},
	{Name: "language", Choices: []string{"zh", "en", "ja"}},
}

var (
	errUnknownParam = errors.New("unknown parameter")
	errBadChoice    = errors.New("value is not one of the allowed choices")
	errDetSize      = errors.New("det_size must have the form WxH")
	errDetSizeSign  = errors.New("det_size values must be positive")
)

var detSizePattern = regexp.MustCompile(`^(\d+)x(\d+)$`)

// Params holds the current parameter values.
type Params struct {
	mu     sync.Mutex
	specs  []ParamSpec
	values map[string]string
}

// NewParams returns Params with every parameter at its default.
func NewParams(specs []ParamSpec) *Params {
	p := &Params{specs: specs, values: make(map[string]string, len(specs))}
	for _, s := range specs {
		p.values[s.Name] = s.defaultValue()
	}
	return p
}

func (p *Params) spec(name string) (ParamSpec, bool) {
	for _, s := range p.specs {
		if s.Name == name {
			return s, true
		}
	}
	return ParamSpec{}, false
}

// Set assigns value to name. A nil value resets the parameter to its default.
func (p *Params) Set(name string, value *string) error {
	s, ok := p.spec(name)
	if !ok {
		return errors.Wrap(errUnknownParam, name)
	}

	v := s.defaultValue()
	if value != nil {
		v = *value
		if len(s.Choices) > 0 && !contains(s.Choices, v) {
			return errors.Wrapf(errBadChoice, "%s=%s", name, v)
		}
	}

	p.mu.Lock()
	p.values[name] = v
	p.mu.Unlock()
	return nil
}

// Get returns the current value of name.
func (p *Params) Get(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[name]
}

// Snapshot returns a copy of the current values.
func (p *Params) Snapshot() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// List returns every parameter in declaration order with the current value
// first in Values, followed by the remaining choices.
func (p *Params) List() []contract.Param {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]contract.Param, 0, len(p.specs))
	for _, s := range p.specs {
		cur := p.values[s.Name]
		values := []string{cur}
		for _, c := range s.Choices {
			if c != cur {
				values = append(values, c)
			}
		}
		out = append(out, contract.Param{Name: s.Name, Values: values})
	}
	return out
}

// DetSize parses the det_size parameter.
func (p *Params) DetSize() (int, int, error) {
	m := detSizePattern.FindStringSubmatch(p.Get("det_size"))
	if m == nil {
		return 0, 0, errDetSize
	}
	w, err1 := strconv.Atoi(m[1])
	h, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, errDetSize
	}
	if w <= 0 || h <= 0 {
		return 0, 0, errDetSizeSign
	}
	return w, h, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
