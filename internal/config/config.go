// Package config defines the records that describe nets, layers and
// fillers, and loads them from YAML.
//
// Every record has a Default* constructor. Decoding starts from those
// defaults, so a YAML document only needs to name the fields it changes:
//
//	name: tiny
//	inputs:
//	  - name: data
//	    shape: [4, 3]
//	    filler: {type: gaussian, std: 0.5}
//	layers:
//	  - name: ip
//	    type: InnerProduct
//	    bottom: [data]
//	    top: [ip]
//	    inner_product_param: {num_output: 2}
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// NetParameter describes a whole net: its external inputs and its layers in
// execution order.
type NetParameter struct {
	Name   string      `yaml:"name"`
	Inputs []InputSpec `yaml:"inputs"`

	// ForceBackward makes every layer compute input gradients, even when no
	// loss depends on them.
	ForceBackward bool `yaml:"force_backward"`

	Layers []LayerParameter `yaml:"layers"`
}

// InputSpec declares an external input tensor of the net.
type InputSpec struct {
	Name  string `yaml:"name"`
	Shape []int  `yaml:"shape"`

	// Filler initializes the input when the net is created.
	Filler FillerParameter `yaml:"filler"`
}

// UnmarshalYAML applies defaults before decoding.
func (s *InputSpec) UnmarshalYAML(value *yaml.Node) error {
	*s = InputSpec{Filler: DefaultFillerParameter()}
	type plain InputSpec
	return value.Decode((*plain)(s))
}

// LayerParameter describes one layer.
type LayerParameter struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Bottom []string `yaml:"bottom"`
	Top    []string `yaml:"top"`

	// LossWeight holds one weight per top. Missing entries default to 1 on
	// the first top of loss layers and 0 elsewhere.
	LossWeight []float64 `yaml:"loss_weight"`

	// PropagateDown holds one flag per bottom. Empty means "as needed".
	PropagateDown []bool `yaml:"propagate_down"`

	// ParamPropagateDown holds one flag per parameter tensor. Missing
	// entries default to true.
	ParamPropagateDown []bool `yaml:"param_propagate_down"`

	HingeLoss     HingeLossParameter     `yaml:"hinge_loss_param"`
	NestedDropout NestedDropoutParameter `yaml:"nested_dropout_param"`
	OutputWriter  OutputWriterParameter  `yaml:"output_param"`
	Recurrent     RecurrentParameter     `yaml:"recurrent_param"`
	InnerProduct  InnerProductParameter  `yaml:"inner_product_param"`
}

// DefaultLayerParameter returns a LayerParameter with every sub-record set
// to its defaults.
func DefaultLayerParameter() LayerParameter {
	return LayerParameter{
		HingeLoss:     DefaultHingeLossParameter(),
		NestedDropout: DefaultNestedDropoutParameter(),
		Recurrent:     DefaultRecurrentParameter(),
		InnerProduct:  DefaultInnerProductParameter(),
	}
}

// UnmarshalYAML applies defaults before decoding.
func (p *LayerParameter) UnmarshalYAML(value *yaml.Node) error {
	*p = DefaultLayerParameter()
	type plain LayerParameter
	return value.Decode((*plain)(p))
}

// Load reads a NetParameter from a YAML file.
func Load(path string) (*NetParameter, error) {
	f, err := os.Open(path) //nolint:gosec // user-supplied config path
	if err != nil {
		return nil, errors.Wrapf(err, "open net config %s", path)
	}
	defer func() { _ = f.Close() }()

	param, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return param, nil
}

// Parse decodes a NetParameter from YAML bytes.
func Parse(data []byte) (*NetParameter, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a NetParameter from r. Unknown top-level keys are errors.
func Decode(r io.Reader) (*NetParameter, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var param NetParameter
	if err := dec.Decode(&param); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty net config")
		}
		return nil, errors.Wrap(err, "decode net config")
	}
	return &param, nil
}
