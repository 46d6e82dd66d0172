package unet

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sugarme/ounet/base"
	"github.com/sugarme/ounet/encoder"
)

var (
	// ErrConfig is returned for structurally invalid configurations.
	ErrConfig = errors.New("invalid config")
	// ErrAsymmetric is returned by CheckSymmetry.
	ErrAsymmetric = errors.New("filter schedule is not symmetric")
	// ErrMisaligned is returned by CheckSkipAlignment.
	ErrMisaligned = errors.New("skip connections are not aligned")
)

// Filter schedules and wiring of the Optimized U-Net.
// Ref: https://arxiv.org/abs/2110.03352
var (
	PaperEncoderFilters = []int64{64, 96, 128, 192, 256, 384}
	PaperDecoderFilters = []int64{384, 256, 192, 128, 96, 64}
	// PaperSkips maps decoder stage i to encoder stage 5-i.
	PaperSkips = []int{5, 4, 3, 2, 1, 0}
	// PaperHeads are the decoder stages emitting deep supervision outputs.
	PaperHeads = []int{3, 4, 5}
)

// Values recorded in the reference Keras script. They differ from the
// paper in two places and are kept so they stay visible to
// CheckSymmetry and CheckSkipAlignment:
//   - decoder stage 1 has 265 filters where the mirror has 256,
//   - decoder stage 3 concatenates encoder stage 1 instead of stage 2.
var (
	SourceDecoderFilters = []int64{384, 265, 192, 128, 96, 64}
	SourceSkips          = []int{5, 4, 3, 1, 1, 0}
)

const (
	DefaultName              = "optimized_unet"
	DefaultInputChannels     = 5
	DefaultInputSize         = 128
	DefaultBottleneckFilters = 512
	DefaultHeadChannels      = 1
)

// DecoderConfig describes one decoder stage.
type DecoderConfig struct {
	Filters int64 `yaml:"filters"`
	// Skip is the encoder stage concatenated after upsampling, or nil.
	Skip *int `yaml:"skip,omitempty"`
	Head bool `yaml:"head"`
}

// Kind returns the stage variant selected by the config.
func (d DecoderConfig) Kind() DecoderKind {
	return KindOf(d.Skip != nil, d.Head)
}

// Config is the full description of an Optimized U-Net.
type Config struct {
	Name              string               `yaml:"name"`
	InputChannels     int64                `yaml:"input_channels"`
	InputSize         []int64              `yaml:"input_size"`
	EncoderFilters    []int64              `yaml:"encoder_filters"`
	BottleneckFilters int64                `yaml:"bottleneck_filters"`
	Decoder           []DecoderConfig      `yaml:"decoder"`
	Downsampling      encoder.Downsampling `yaml:"downsampling"`
	HeadChannels      int64                `yaml:"head_channels"`
	LeakySlope        float64              `yaml:"leaky_slope"`
	NormEps           float64              `yaml:"norm_eps"`
}

// Act returns the activation options of the config.
func (c Config) Act() base.Act {
	return base.Act{Slope: c.LeakySlope, Eps: c.NormEps}
}

// DefaultConfig is the paper layout on a (5, 128, 128, 128) input.
func DefaultConfig() Config {
	return newConfig(PaperDecoderFilters, PaperSkips, encoder.DownsamplePool)
}

// SourceConfig reproduces the reference script, anomalies included. It
// fails CheckSymmetry and CheckSkipAlignment, and does not build.
func SourceConfig() Config {
	c := newConfig(SourceDecoderFilters, SourceSkips, encoder.DownsampleStrided)
	c.Name = "optimized_unet_source"
	return c
}

func newConfig(decFilters []int64, skips []int, policy encoder.Downsampling) Config {
	dec := make([]DecoderConfig, len(decFilters))
	for i, f := range decFilters {
		skip := skips[i]
		dec[i] = DecoderConfig{Filters: f, Skip: &skip}
	}
	for _, h := range PaperHeads {
		dec[h].Head = true
	}

	return Config{
		Name:              DefaultName,
		InputChannels:     DefaultInputChannels,
		InputSize:         []int64{DefaultInputSize, DefaultInputSize, DefaultInputSize},
		EncoderFilters:    append([]int64(nil), PaperEncoderFilters...),
		BottleneckFilters: DefaultBottleneckFilters,
		Decoder:           dec,
		Downsampling:      policy,
		HeadChannels:      DefaultHeadChannels,
		LeakySlope:        base.DefaultSlope,
		NormEps:           base.DefaultEps,
	}
}

// LoadConfig reads a YAML config. Fields missing from the file keep their
// DefaultConfig values; unknown fields are an error.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrapf(err, "decode %s", path)
	}

	return cfg, cfg.Validate()
}

// Validate checks that the config describes a buildable network.
func (c Config) Validate() error {
	var problems []string
	fail := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Name == "" {
		fail("empty name")
	}
	if c.InputChannels < 1 {
		fail("input_channels %d", c.InputChannels)
	}
	if len(c.InputSize) != 3 {
		fail("input_size needs 3 dims, got %v", c.InputSize)
	}
	n := len(c.EncoderFilters)
	if n == 0 {
		fail("no encoder stages")
	}
	for i, f := range c.EncoderFilters {
		if f < 1 {
			fail("encoder stage %d: filters %d", i, f)
		}
	}
	if c.BottleneckFilters < 1 {
		fail("bottleneck_filters %d", c.BottleneckFilters)
	}
	if len(c.Decoder) != n {
		fail("%d decoder stages for %d encoder stages", len(c.Decoder), n)
	}
	heads := 0
	for i, d := range c.Decoder {
		if d.Filters < 1 {
			fail("decoder stage %d: filters %d", i, d.Filters)
		}
		if d.Skip != nil && (*d.Skip < 0 || *d.Skip >= n) {
			fail("decoder stage %d: skip %d out of range [0, %d)", i, *d.Skip, n)
		}
		if d.Head {
			heads++
		}
	}
	if heads == 0 {
		fail("no decoder stage emits an output")
	} else if last := len(c.Decoder) - 1; !c.Decoder[last].Head {
		fail("decoder stage %d emits no output, its features would be unused", last)
	}
	if !c.Downsampling.Valid() {
		fail("downsampling %q", c.Downsampling)
	}
	if c.HeadChannels < 1 {
		fail("head_channels %d", c.HeadChannels)
	}
	if c.LeakySlope < 0 || c.LeakySlope >= 1 {
		fail("leaky_slope %v", c.LeakySlope)
	}
	if c.NormEps <= 0 {
		fail("norm_eps %v", c.NormEps)
	}
	if len(c.InputSize) == 3 && n > 0 && n < 63 {
		step := int64(1) << uint(n)
		for _, d := range c.InputSize {
			if d < 1 || d%step != 0 {
				fail("input_size %v not divisible by 2^%d", c.InputSize, n)
				break
			}
		}
	}

	if len(problems) > 0 {
		return errors.Wrapf(ErrConfig, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// CheckSymmetry reports every encoder stage whose filters do not increase
// and every decoder stage whose filters differ from its mirrored encoder
// stage.
func (c Config) CheckSymmetry() error {
	var problems []string
	n := len(c.EncoderFilters)
	for i := 1; i < n; i++ {
		if c.EncoderFilters[i] <= c.EncoderFilters[i-1] {
			problems = append(problems, fmt.Sprintf("encoder stage %d has %d filters after %d", i, c.EncoderFilters[i], c.EncoderFilters[i-1]))
		}
	}
	if n > 0 && c.BottleneckFilters <= c.EncoderFilters[n-1] {
		problems = append(problems, fmt.Sprintf("bottleneck has %d filters after %d", c.BottleneckFilters, c.EncoderFilters[n-1]))
	}
	for i, d := range c.Decoder {
		m := n - 1 - i
		if m < 0 {
			problems = append(problems, fmt.Sprintf("decoder stage %d has no mirrored encoder stage", i))
			continue
		}
		if d.Filters != c.EncoderFilters[m] {
			problems = append(problems, fmt.Sprintf("decoder stage %d has %d filters, encoder stage %d has %d", i, d.Filters, m, c.EncoderFilters[m]))
		}
	}

	if len(problems) > 0 {
		return errors.Wrapf(ErrAsymmetric, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// CheckSkipAlignment reports every decoder stage that does not concatenate
// its mirrored encoder stage.
func (c Config) CheckSkipAlignment() error {
	var problems []string
	n := len(c.EncoderFilters)
	for i, d := range c.Decoder {
		want := n - 1 - i
		switch {
		case d.Skip == nil:
			problems = append(problems, fmt.Sprintf("decoder stage %d has no skip, want encoder stage %d", i, want))
		case *d.Skip != want:
			problems = append(problems, fmt.Sprintf("decoder stage %d skips encoder stage %d, want %d", i, *d.Skip, want))
		}
	}

	if len(problems) > 0 {
		return errors.Wrapf(ErrMisaligned, "%s", strings.Join(problems, "; "))
	}
	return nil
}
