// Package loopy implements approximate inference on discrete factor graphs.
//
// Loopy takes a declarative factor-graph description (categorical variables
// plus enumerated, pairwise, OR and AND factor groups), compiles it into a
// flat, index-based representation, and runs message-passing inference over
// pre-allocated flat message arrays:
//
//   - Belief Propagation: synchronous loopy BP with damping, interpolating
//     max-product (temperature 0) and sum-product (temperature > 0)
//   - Smooth Dual LP: Nesterov-accelerated gradient descent on a smoothed
//     dual of the LP relaxation of MAP, sharing the same message arrays
//
// # Architecture Overview
//
// The engine consists of several key components:
//
//   - model: declarative graph description with validation and a text format
//   - compiler: flattens a model.Graph into offset tables and CSR indexes
//   - core: the immutable FlatGraph shared read-only across inference runs
//   - kernels: per-factor-kind message updates and smoothed-dual gradients,
//     dispatched through a catalog indexed by factor kind
//   - runtime: the mutable Arena, the BP and SDLP drivers, decoders
//
// # Performance Characteristics
//
// All per-run numeric state lives in flat float64 arrays with offsets fixed
// at compile time, so kernels run as batched, branch-light loops over factor
// groups. Reduction order is fixed per group, which makes runs with equal
// inputs bit-reproducible. Logical OR/AND factors with n parents update in
// O(n) without materializing their 2^(n+1) configuration tables.
//
// # Basic Usage
//
//	g := model.NewGraph()
//	g.AddVariableGroup("spins", 100, 2)
//	g.AddFactorGroup(&model.PairwiseFactorGroup{ ... })
//
//	fg, err := compiler.Compile(g)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inf, _ := runtime.BuildInferer(fg, runtime.BackendBP)
//	arena, _ := inf.Init(runtime.InitOptions{EvidenceUpdates: ev})
//	if err := inf.Run(arena, 200, runtime.RunOptions{Damping: 0.5}); err != nil {
//	    log.Fatal(err)
//	}
//	beliefs := inf.GetBeliefs(arena)
//
// # Package Structure
//
//   - model: graph description, validation, .fg text grammar
//   - compiler: model.Graph -> core.FlatGraph compilation
//   - core: flat graph representation and shared error values
//   - kernels: factor kernels, log-domain reductions, dual gradients
//   - runtime: arena, drivers, facade, decoders
//   - cmd/loopy: run/bench command-line tool
package loopy
