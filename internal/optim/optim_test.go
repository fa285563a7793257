package optim_test

import (
	"math"
	"testing"

	"github.com/born-ml/born-lora/internal/nn"
	"github.com/born-ml/born-lora/internal/optim"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < eps
}

func newParam(t *testing.T, name string, values ...float32) *nn.Parameter {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{len(values)})
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	return nn.NewParameter(name, x)
}

func setGrad(t *testing.T, p *nn.Parameter, values ...float32) {
	t.Helper()
	g, err := tensor.FromSlice(values, tensor.Shape{len(values)})
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	p.SetGrad(g)
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	param := newParam(t, "x", 2.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1})

	setGrad(t, param, 1.0)
	optimizer.Step()

	// Expected: x_new = x_old - lr * grad = 2.0 - 0.1 * 1.0 = 1.9
	if actual := param.Tensor().Data()[0]; !floatEqual(actual, 1.9, 1e-6) {
		t.Errorf("SGD update: got %f, want %f", actual, 1.9)
	}
}

// TestSGD_WithMomentum tests SGD with momentum.
func TestSGD_WithMomentum(t *testing.T) {
	param := newParam(t, "x", 1.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1, Momentum: 0.9})

	// v_1 = 1.0, x_1 = 0.9
	setGrad(t, param, 1.0)
	optimizer.Step()
	if actual := param.Tensor().Data()[0]; !floatEqual(actual, 0.9, 1e-6) {
		t.Errorf("SGD momentum step 1: got %f, want 0.9", actual)
	}

	// v_2 = 0.9 * 1.0 + 1.0 = 1.9, x_2 = 0.9 - 0.19 = 0.71
	setGrad(t, param, 1.0)
	optimizer.Step()
	if actual := param.Tensor().Data()[0]; !floatEqual(actual, 0.71, 1e-5) {
		t.Errorf("SGD momentum step 2: got %f, want 0.71", actual)
	}
}

// TestSGD_GetSetLR tests learning rate getter/setter.
func TestSGD_GetSetLR(t *testing.T) {
	optimizer := optim.NewSGD(nil, optim.SGDConfig{})
	if lr := optimizer.GetLR(); lr != 0.01 {
		t.Errorf("default LR: got %f, want 0.01", lr)
	}
	optimizer.SetLR(0.5)
	if lr := optimizer.GetLR(); lr != 0.5 {
		t.Errorf("SetLR: got %f, want 0.5", lr)
	}
}

// TestAdam_SimpleUpdate tests a single Adam step.
func TestAdam_SimpleUpdate(t *testing.T) {
	param := newParam(t, "x", 1.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{
		LR:    0.001,
		Betas: [2]float32{0.9, 0.999},
		Eps:   1e-8,
	})

	setGrad(t, param, 1.0)
	optimizer.Step()

	// m_hat = v_hat = 1.0 after bias correction, so x_new ≈ 1.0 - 0.001.
	if actual := param.Tensor().Data()[0]; !floatEqual(actual, 0.999, 1e-5) {
		t.Errorf("Adam first step: got %f, want %f", actual, 0.999)
	}
}

// TestAdam_BiasCorrection tests that Adam applies bias correction correctly.
func TestAdam_BiasCorrection(t *testing.T) {
	param := newParam(t, "x", 1.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.01})

	if optimizer.GetTimestep() != 0 {
		t.Errorf("Initial timestep: got %d, want 0", optimizer.GetTimestep())
	}

	for i := 1; i <= 3; i++ {
		setGrad(t, param, 1.0)
		optimizer.Step()
		if optimizer.GetTimestep() != i {
			t.Errorf("After step %d, timestep: got %d, want %d", i, optimizer.GetTimestep(), i)
		}
	}

	if final := param.Tensor().Data()[0]; final >= 1.0 {
		t.Errorf("After 3 Adam steps with positive gradient, parameter should decrease: got %f", final)
	}
}

// TestAdam_ZeroGrad tests ZeroGrad for Adam.
func TestAdam_ZeroGrad(t *testing.T) {
	param := newParam(t, "x", 1.0)
	setGrad(t, param, 5.0)

	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.001})
	optimizer.ZeroGrad()

	if param.Grad() != nil {
		t.Error("Adam ZeroGrad should clear gradients")
	}
}

// TestFrozenParametersAreSkipped checks that freezing a parameter keeps its
// value even when a stale gradient is present.
func TestFrozenParametersAreSkipped(t *testing.T) {
	for _, tc := range []struct {
		name string
		make func([]*nn.Parameter) optim.Optimizer
	}{
		{"SGD", func(p []*nn.Parameter) optim.Optimizer { return optim.NewSGD(p, optim.SGDConfig{LR: 0.1}) }},
		{"Adam", func(p []*nn.Parameter) optim.Optimizer { return optim.NewAdam(p, optim.AdamConfig{LR: 0.1}) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			frozen := newParam(t, "frozen", 1.0, 2.0)
			trainable := newParam(t, "trainable", 1.0, 2.0)
			optimizer := tc.make([]*nn.Parameter{frozen, trainable})

			setGrad(t, frozen, 1.0, 1.0)
			setGrad(t, trainable, 1.0, 1.0)
			frozen.SetRequiresGrad(false)
			// SetRequiresGrad(false) drops the gradient; put a stale one back.
			setGrad(t, frozen, 1.0, 1.0)

			optimizer.Step()

			if got := frozen.Tensor().Data(); got[0] != 1.0 || got[1] != 2.0 {
				t.Errorf("frozen parameter changed: %v", got)
			}
			if got := trainable.Tensor().Data(); got[0] >= 1.0 {
				t.Errorf("trainable parameter did not move: %v", got)
			}
		})
	}
}

// TestTrainable filters frozen parameters.
func TestTrainable(t *testing.T) {
	a := newParam(t, "a", 1)
	b := newParam(t, "b", 1)
	b.SetRequiresGrad(false)

	got := optim.Trainable([]*nn.Parameter{a, b})
	if len(got) != 1 || got[0] != a {
		t.Errorf("Trainable: got %d params, want [a]", len(got))
	}
}

// TestConvergence_SimpleQuadratic tests optimizer convergence on f(x) = x².
func TestConvergence_SimpleQuadratic(t *testing.T) {
	run := func(t *testing.T, optimizer optim.Optimizer, param *nn.Parameter) {
		for i := 0; i < 100; i++ {
			// df/dx = 2x
			setGrad(t, param, 2.0*param.Tensor().Data()[0])
			optimizer.Step()
		}
		if final := param.Tensor().Data()[0]; math.Abs(float64(final)) > 0.1 {
			t.Errorf("convergence: x = %f, expected close to 0", final)
		}
	}

	t.Run("SGD", func(t *testing.T) {
		param := newParam(t, "x", 3.0)
		run(t, optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1, Momentum: 0.9}), param)
	})

	t.Run("Adam", func(t *testing.T) {
		param := newParam(t, "x", 3.0)
		run(t, optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.1}), param)
	})
}
