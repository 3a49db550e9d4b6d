// Package biometrics - learned stress model.
//
// The learned strategy is a standardized random forest over the ten scroll
// features. Models are trained offline and exported to YAML:
//
//	name: scroll-stress-forest
//	features: [meanVelocity, velocityStdDev, ...]
//	scaler:
//	  mean:  [100.0, 30.0, ...]
//	  scale: [20.0, 10.0, ...]
//	trees:
//	  - nodes:
//	      - {feature: 1, threshold: 0.4, left: 1, right: 2}
//	      - {leaf: true, value: 0.1}
//	      - {leaf: true, value: 0.9}
//
// Each tree walks from node 0, going left when the scaled feature is <=
// threshold. The score is the mean leaf value across trees. Heart rate is
// not a model input.
package biometrics

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

var (
	// ErrModelUnavailable means no usable model could be loaded.
	ErrModelUnavailable = errors.New("stress model unavailable")

	// ErrFeatureMismatch means the input does not fit the model's shape.
	ErrFeatureMismatch = errors.New("feature vector does not match model")
)

// ForestModel is a pre-trained forest with its input scaler.
type ForestModel struct {
	Name     string   `yaml:"name"`
	Features []string `yaml:"features"`
	Scaler   Scaler   `yaml:"scaler"`
	Trees    []Tree   `yaml:"trees"`
}

// Scaler standardizes inputs as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
}

// Tree is a flat array of nodes; node 0 is the root.
type Tree struct {
	Nodes []Node `yaml:"nodes"`
}

// Node is either a split or a leaf.
type Node struct {
	Feature   int     `yaml:"feature"`
	Threshold float64 `yaml:"threshold"`
	Left      int     `yaml:"left"`
	Right     int     `yaml:"right"`
	Leaf      bool    `yaml:"leaf"`
	Value     float64 `yaml:"value"`
}

// LoadForest reads and validates a model file.
func LoadForest(path string) (*ForestModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return ParseForest(data)
}

// ParseForest decodes and validates a YAML model.
func ParseForest(data []byte) (*ForestModel, error) {
	var m ForestModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrModelUnavailable, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the model shape once so scoring can stay cheap.
func (m *ForestModel) Validate() error {
	width := len(FeatureNames)

	if len(m.Features) != width {
		return fmt.Errorf("%w: model has %d features, want %d", ErrModelUnavailable, len(m.Features), width)
	}
	for i, name := range m.Features {
		if name != FeatureNames[i] {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrModelUnavailable, i, name, FeatureNames[i])
		}
	}

	if len(m.Scaler.Mean) != width || len(m.Scaler.Scale) != width {
		return fmt.Errorf("%w: scaler needs %d means and scales", ErrModelUnavailable, width)
	}
	for i, s := range m.Scaler.Scale {
		if s == 0 || math.IsNaN(s) {
			return fmt.Errorf("%w: scale for %s is %v", ErrModelUnavailable, FeatureNames[i], s)
		}
	}

	if len(m.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrModelUnavailable)
	}
	for t, tree := range m.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrModelUnavailable, t)
		}
		for n, node := range tree.Nodes {
			if node.Leaf {
				continue
			}
			if node.Feature < 0 || node.Feature >= width {
				return fmt.Errorf("%w: tree %d node %d splits on feature %d", ErrModelUnavailable, t, n, node.Feature)
			}
			if !validChild(node.Left, n, len(tree.Nodes)) || !validChild(node.Right, n, len(tree.Nodes)) {
				return fmt.Errorf("%w: tree %d node %d has bad children", ErrModelUnavailable, t, n)
			}
		}
	}
	return nil
}

// validChild requires children to point forward, which rules out cycles.
func validChild(child, parent, size int) bool {
	return child > parent && child < size
}

// Score implements Scorer. heartRate is ignored.
func (m *ForestModel) Score(f Features, _ float64) (float64, error) {
	x := f.Vector()
	if len(x) != len(m.Scaler.Mean) {
		return 0, ErrFeatureMismatch
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %s is %v", ErrFeatureMismatch, FeatureNames[i], v)
		}
	}

	scaled := make([]float64, len(x))
	floats.SubTo(scaled, x, m.Scaler.Mean)
	floats.Div(scaled, m.Scaler.Scale)

	var sum float64
	for t := range m.Trees {
		v, err := m.Trees[t].eval(scaled)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", t, err)
		}
		sum += v
	}
	return sum / float64(len(m.Trees)), nil
}

func (t *Tree) eval(x []float64) (float64, error) {
	i := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		if i < 0 || i >= len(t.Nodes) {
			return 0, fmt.Errorf("%w: node index %d", ErrFeatureMismatch, i)
		}
		node := t.Nodes[i]
		if node.Leaf {
			return node.Value, nil
		}
		if node.Feature < 0 || node.Feature >= len(x) {
			return 0, fmt.Errorf("%w: split feature %d", ErrFeatureMismatch, node.Feature)
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
	return 0, fmt.Errorf("%w: tree does not terminate", ErrFeatureMismatch)
}
