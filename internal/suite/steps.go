package suite

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"shopharness/internal/scenario"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

type navigateSpec struct {
	URL       string `yaml:"url"`
	WaitUntil string `yaml:"waitUntil"`
}

type fillSpec struct {
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
}

type selectorSpec struct {
	Selector string        `yaml:"selector"`
	Any      bool          `yaml:"any"`
	Timeout  time.Duration `yaml:"timeout"`
}

type textSpec struct {
	Selector string        `yaml:"selector"`
	Equals   *string       `yaml:"equals"`
	Contains *string       `yaml:"contains"`
	Timeout  time.Duration `yaml:"timeout"`
}

type attributeSpec struct {
	Selector string        `yaml:"selector"`
	Name     string        `yaml:"name"`
	Equals   string        `yaml:"equals"`
	Timeout  time.Duration `yaml:"timeout"`
}

type countSpec struct {
	Selector string        `yaml:"selector"`
	Equals   *int          `yaml:"equals"`
	AtLeast  *int          `yaml:"atLeast"`
	Timeout  time.Duration `yaml:"timeout"`
}

type urlSpec struct {
	Contains string        `yaml:"contains"`
	Timeout  time.Duration `yaml:"timeout"`
}

type requestSpec struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	JSON    any               `yaml:"json"`
}

type jsonSpec struct {
	Path   string `yaml:"path"`
	Equals any    `yaml:"equals"`
	Absent bool   `yaml:"absent"`
}

// decodeStep 解析单键映射形式的步骤
func (s *Suite) decodeStep(n *yaml.Node, ext FixtureSource) (scenario.Step, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, fmt.Errorf("line %d: step must be a single-key mapping", n.Line)
	}
	key, val := n.Content[0].Value, n.Content[1]

	switch key {
	case "install":
		if val.Kind == yaml.ScalarNode {
			rules, err := s.Rules(val.Value, ext)
			if err != nil {
				return nil, err
			}
			return scenario.InstallRules{Rules: rules}, nil
		}
		var rules []rulespec.Rule
		if err := val.Decode(&rules); err != nil {
			return nil, err
		}
		cfg := rulespec.Config{Rules: rules}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return scenario.InstallRules{Rules: cfg.Rules}, nil

	case "navigate":
		spec := navigateSpec{URL: val.Value}
		if val.Kind == yaml.MappingNode {
			if err := val.Decode(&spec); err != nil {
				return nil, err
			}
		}
		wu := model.WaitUntil(spec.WaitUntil).OrDefault()
		if !wu.Valid() {
			return nil, fmt.Errorf("line %d: unknown waitUntil %q", val.Line, spec.WaitUntil)
		}
		return scenario.Navigate{URL: spec.URL, WaitUntil: wu}, nil

	case "fill":
		var spec fillSpec
		if err := val.Decode(&spec); err != nil {
			return nil, err
		}
		return scenario.Fill{Selector: spec.Selector, Value: spec.Value}, nil

	case "click":
		return scenario.Click{Selector: val.Value}, nil

	case "waitFor":
		spec, err := decodeSelector(val)
		if err != nil {
			return nil, err
		}
		return scenario.WaitForSelector{Selector: spec.Selector, Timeout: spec.Timeout}, nil

	case "assertVisible":
		spec, err := decodeSelector(val)
		if err != nil {
			return nil, err
		}
		return scenario.AssertVisible{Selector: spec.Selector, Any: spec.Any, Timeout: spec.Timeout}, nil

	case "assertText":
		var spec textSpec
		if err := val.Decode(&spec); err != nil {
			return nil, err
		}
		switch {
		case spec.Equals != nil:
			return scenario.AssertText{Selector: spec.Selector, Expected: *spec.Equals, Timeout: spec.Timeout}, nil
		case spec.Contains != nil:
			return scenario.AssertText{Selector: spec.Selector, Expected: *spec.Contains, Contains: true, Timeout: spec.Timeout}, nil
		}
		return nil, fmt.Errorf("line %d: assertText needs equals or contains", val.Line)

	case "assertAnyText":
		var spec textSpec
		if err := val.Decode(&spec); err != nil {
			return nil, err
		}
		if spec.Contains == nil {
			return nil, fmt.Errorf("line %d: assertAnyText needs contains", val.Line)
		}
		return scenario.AssertAnyText{Selector: spec.Selector, Contains: *spec.Contains, Timeout: spec.Timeout}, nil

	case "assertAttribute":
		var spec attributeSpec
		if err := val.Decode(&spec); err != nil {
			return nil, err
		}
		return scenario.AssertAttribute{Selector: spec.Selector, Name: spec.Name, Expected: spec.Equals, Timeout: spec.Timeout}, nil

	case "assertCount":
		var spec countSpec
		if err := val.Decode(&spec); err != nil {
			return nil, err
		}
		switch {
		case spec.Equals != nil:
			return scenario.AssertCount{Selector: spec.Selector, Count: *spec.Equals, Timeout: spec.Timeout}, nil
		case spec.AtLeast != nil:
			return scenario.AssertCount{Selector: spec.Selector, Count: *spec.AtLeast, AtLeast: true, Timeout: spec.Timeout}, nil
		}
		return nil, fmt.Errorf("line %d: assertCount needs equals or atLeast", val.Line)

	case "assertURL":
		spec := urlSpec{Contains: val.Value}
		if val.Kind == yaml.MappingNode {
			if err := val.Decode(&spec); err != nil {
				return nil, err
			}
		}
		return scenario.AssertURL{Contains: spec.Contains, Timeout: spec.Timeout}, nil

	case "setViewport":
		var vp model.Viewport
		if err := val.Decode(&vp); err != nil {
			return nil, err
		}
		if err := vp.Validate(); err != nil {
			return nil, err
		}
		return scenario.SetViewport{Width: vp.Width, Height: vp.Height}, nil

	case "request":
		var spec requestSpec
		if err := val.Decode(&spec); err != nil {
			return nil, err
		}
		if spec.Method == "" {
			spec.Method = "GET"
		}
		return scenario.Request{Method: spec.Method, URL: spec.URL, Headers: spec.Headers, Body: spec.Body, JSON: spec.JSON}, nil

	case "assertStatus":
		var code int
		if err := val.Decode(&code); err != nil {
			return nil, err
		}
		return scenario.AssertStatus{Code: code}, nil

	case "assertJSON":
		var spec jsonSpec
		if err := val.Decode(&spec); err != nil {
			return nil, err
		}
		return scenario.AssertJSON{Path: spec.Path, Equals: spec.Equals, Absent: spec.Absent}, nil

	case "sleep":
		var d time.Duration
		if err := val.Decode(&d); err != nil {
			return nil, err
		}
		return scenario.Sleep{Duration: d}, nil
	}
	return nil, fmt.Errorf("line %d: unknown step %q", n.Content[0].Line, key)
}

// decodeSelector 支持纯字符串或映射形式
func decodeSelector(val *yaml.Node) (selectorSpec, error) {
	if val.Kind == yaml.ScalarNode {
		return selectorSpec{Selector: val.Value}, nil
	}
	var spec selectorSpec
	err := val.Decode(&spec)
	return spec, err
}
