// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package gradcheck provides the public numeric gradient checker of brew.
//
// Example:
//
//	checker := gradcheck.New(1e-2, 1e-3)
//	report := checker.CheckGradientExhaustive(l, ctx, bottom, top, -1)
//	if err := report.Err(); err != nil {
//	    log.Fatal(err)
//	}
package gradcheck

import "github.com/born-ml/brew/internal/gradcheck"

// Checker compares a layer's analytic gradients with central differences.
type Checker = gradcheck.Checker

// Option configures a Checker.
type Option = gradcheck.Option

// Report collects the outcome of one or more checks.
type Report = gradcheck.Report

// Mismatch describes one element whose gradients disagree.
type Mismatch = gradcheck.Mismatch

// DefaultSeed is the random seed applied before every forward pass.
const DefaultSeed = gradcheck.DefaultSeed

// New returns a checker with the given finite-difference step and relative
// error threshold.
func New(stepsize, threshold float64, opts ...Option) *Checker {
	return gradcheck.New(stepsize, threshold, opts...)
}

// WithSeed sets the seed applied before every layer evaluation.
func WithSeed(seed int64) Option { return gradcheck.WithSeed(seed) }

// WithKink skips elements whose input lies within kinkRange of kink.
func WithKink(kink, kinkRange float64) Option { return gradcheck.WithKink(kink, kinkRange) }
