// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training neural networks.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Optimizer interface for custom optimizers
//
// Frozen parameters are skipped, so passing a model's full parameter list
// after freezing its base weights updates only the adapters.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/born-lora/nn"
//	    "github.com/born-ml/born-lora/optim"
//	)
//
//	func main() {
//	    model := nn.NewLinear("fc", 784, 10, nil)
//	    optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 0.001})
//
//	    optimizer.ZeroGrad()
//	    // forward, loss, backward ...
//	    optimizer.Step()
//	}
package optim
