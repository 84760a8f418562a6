package config

import "gopkg.in/yaml.v3"

// FillerParameter selects and configures a filler.
type FillerParameter struct {
	// Type is one of constant, uniform, gaussian, positive_unitball,
	// xavier, expectation, expectation_data.
	Type string `yaml:"type"`

	Value float64 `yaml:"value"` // constant
	Min   float64 `yaml:"min"`   // uniform
	Max   float64 `yaml:"max"`   // uniform
	Mean  float64 `yaml:"mean"`  // gaussian
	Std   float64 `yaml:"std"`   // gaussian

	// Sparse is the expected number of non-zero inputs per output for the
	// gaussian filler; -1 disables sparsity.
	Sparse int `yaml:"sparse"`

	// Width, Height and ExpectationOption configure the expectation
	// fillers. ExpectationOption is one of x, y, xy, -x^2y^2.
	Width             int    `yaml:"width"`
	Height            int    `yaml:"height"`
	ExpectationOption string `yaml:"expectation_option"`
}

// DefaultFillerParameter returns a constant-zero filler.
func DefaultFillerParameter() FillerParameter {
	return FillerParameter{
		Type:              "constant",
		Max:               1,
		Std:               1,
		Sparse:            -1,
		ExpectationOption: "x",
	}
}

// UnmarshalYAML applies defaults before decoding.
func (p *FillerParameter) UnmarshalYAML(value *yaml.Node) error {
	*p = DefaultFillerParameter()
	type plain FillerParameter
	return value.Decode((*plain)(p))
}

// Norm selects the hinge loss penalty.
type Norm string

// Supported norms.
const (
	L1 Norm = "L1"
	L2 Norm = "L2"
)

// HingeLossParameter configures the HingeLoss layer.
type HingeLossParameter struct {
	Norm Norm `yaml:"norm"`

	// Offset is added to every input before the hinge.
	Offset float64 `yaml:"offset"`
}

// DefaultHingeLossParameter returns an L1 hinge with no offset.
func DefaultHingeLossParameter() HingeLossParameter {
	return HingeLossParameter{Norm: L1}
}

// UnmarshalYAML applies defaults before decoding.
func (p *HingeLossParameter) UnmarshalYAML(value *yaml.Node) error {
	*p = DefaultHingeLossParameter()
	type plain HingeLossParameter
	return value.Decode((*plain)(p))
}

// NestedDropoutParameter configures the NestedDropout layer.
type NestedDropoutParameter struct {
	// GeomRate is the success probability of the geometric draw, in (0, 1].
	GeomRate float64 `yaml:"geom_rate"`

	// Scale multiplies every kept channel.
	Scale float64 `yaml:"scale"`

	// ConvergeThreshold is the mean absolute gradient under which the
	// frontier channel counts as converged.
	ConvergeThreshold float64 `yaml:"converge_threshold"`
}

// DefaultNestedDropoutParameter returns p=0.5, scale 1, threshold 1e-3.
func DefaultNestedDropoutParameter() NestedDropoutParameter {
	return NestedDropoutParameter{
		GeomRate:          0.5,
		Scale:             1,
		ConvergeThreshold: 1e-3,
	}
}

// UnmarshalYAML applies defaults before decoding.
func (p *NestedDropoutParameter) UnmarshalYAML(value *yaml.Node) error {
	*p = DefaultNestedDropoutParameter()
	type plain NestedDropoutParameter
	return value.Decode((*plain)(p))
}

// OutputWriterParameter configures the OutputWriter layer.
type OutputWriterParameter struct {
	FileName string `yaml:"file_name"`
}

// RecurrentParameter configures the RNN layer.
type RecurrentParameter struct {
	NumOutput int `yaml:"num_output"`

	// NumHidden is the hidden state width; 0 means NumOutput.
	NumHidden int `yaml:"num_hidden"`

	WeightFiller FillerParameter `yaml:"weight_filler"`
	BiasFiller   FillerParameter `yaml:"bias_filler"`
}

// DefaultRecurrentParameter returns constant-zero fillers.
func DefaultRecurrentParameter() RecurrentParameter {
	return RecurrentParameter{
		WeightFiller: DefaultFillerParameter(),
		BiasFiller:   DefaultFillerParameter(),
	}
}

// UnmarshalYAML applies defaults before decoding.
func (p *RecurrentParameter) UnmarshalYAML(value *yaml.Node) error {
	*p = DefaultRecurrentParameter()
	type plain RecurrentParameter
	return value.Decode((*plain)(p))
}

// InnerProductParameter configures the InnerProduct layer.
type InnerProductParameter struct {
	NumOutput int  `yaml:"num_output"`
	BiasTerm  bool `yaml:"bias_term"`

	// Axis is the first axis flattened into the input vector. Axes before
	// it index independent samples.
	Axis int `yaml:"axis"`

	WeightFiller FillerParameter `yaml:"weight_filler"`
	BiasFiller   FillerParameter `yaml:"bias_filler"`
}

// DefaultInnerProductParameter returns axis 1 with a bias term.
func DefaultInnerProductParameter() InnerProductParameter {
	return InnerProductParameter{
		BiasTerm:     true,
		Axis:         1,
		WeightFiller: DefaultFillerParameter(),
		BiasFiller:   DefaultFillerParameter(),
	}
}

// UnmarshalYAML applies defaults before decoding.
func (p *InnerProductParameter) UnmarshalYAML(value *yaml.Node) error {
	*p = DefaultInnerProductParameter()
	type plain InnerProductParameter
	return value.Decode((*plain)(p))
}
