package nn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"transfer-learning/internal/tensor"
)

// SGDConfig holds the optional terms of stochastic gradient descent. The
// zero value is plain SGD.
type SGDConfig struct {
	Momentum    float64
	Dampening   float64
	WeightDecay float64
	Nesterov    bool
}

// DefaultSGDConfig returns plain SGD.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{}
}

// Validate reports configuration errors.
func (c SGDConfig) Validate() error {
	var errs []error
	if c.Momentum < 0 {
		errs = append(errs, fmt.Errorf("momentum must be >= 0, got %g", c.Momentum))
	}
	if c.WeightDecay < 0 {
		errs = append(errs, fmt.Errorf("weight decay must be >= 0, got %g", c.WeightDecay))
	}
	if c.Nesterov && (c.Momentum == 0 || c.Dampening != 0) {
		errs = append(errs, errors.New("nesterov needs momentum > 0 and zero dampening"))
	}
	return errors.Join(errs...)
}

// SGD updates the trainable variables of one VarStore.
type SGD struct {
	cfg      SGDConfig
	lr       float64
	params   []*tensor.Tensor
	velocity [][]float64
}

// Build attaches an optimizer with learning rate lr to the variables of vs
// that are trainable now.
func (c SGDConfig) Build(vs *VarStore, lr float64) (*SGD, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("sgd config: %w", err)
	}
	if lr <= 0 {
		return nil, fmt.Errorf("sgd learning rate must be > 0, got %g", lr)
	}
	params := vs.TrainableVariables()
	if len(params) == 0 {
		return nil, errors.New("sgd: no trainable variables")
	}
	return &SGD{
		cfg:      c,
		lr:       lr,
		params:   params,
		velocity: make([][]float64, len(params)),
	}, nil
}

// LR returns the current learning rate.
func (o *SGD) LR() float64 { return o.lr }

// SetLR replaces the learning rate.
func (o *SGD) SetLR(lr float64) { o.lr = lr }

// ZeroGrad clears the gradients of every managed variable.
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// Step applies one update from the accumulated gradients.
func (o *SGD) Step() {
	for i, p := range o.params {
		g := p.Grad()
		if g == nil {
			continue
		}
		step := g
		if o.cfg.WeightDecay != 0 {
			step = append([]float64(nil), g...)
			floats.AddScaled(step, o.cfg.WeightDecay, p.Data())
		}
		if o.cfg.Momentum != 0 {
			buf := o.velocity[i]
			if buf == nil {
				buf = append([]float64(nil), step...)
				o.velocity[i] = buf
			} else {
				floats.Scale(o.cfg.Momentum, buf)
				floats.AddScaled(buf, 1-o.cfg.Dampening, step)
			}
			if o.cfg.Nesterov {
				next := append([]float64(nil), step...)
				floats.AddScaled(next, o.cfg.Momentum, buf)
				step = next
			} else {
				step = buf
			}
		}
		floats.AddScaled(p.Data(), -o.lr, step)
	}
}

// BackwardStep zeroes gradients, back-propagates loss and applies one step.
func (o *SGD) BackwardStep(loss *tensor.Tensor) {
	o.ZeroGrad()
	loss.Backward()
	o.Step()
}
