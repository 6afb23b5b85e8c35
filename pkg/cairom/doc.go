// Package cairom provides a zkSTARK prover and verifier for Cairo-M, a
// register/memory machine whose execution traces are proved over the
// Mersenne-31 field (p = 2^31 - 1) and its degree-4 extension QM31.
//
// # Features
//
// - A fixed-width Cairo-M instruction set: one QM31 word per instruction
// - A fetch-decode-execute VM with per-cell-clock memory semantics
// - A trace adapter that re-expresses a run into per-opcode AIR components
// - A logup-based interaction argument (Memory, RangeCheck_20, per-opcode
//   dispatch relations) tying every component together
// - A commit-fold-query FRI low-degree proof over the resulting composition
// - A Fiat-Shamir transcript configurable with sha256, sha3, or Poseidon
//
// # Quick Start
//
// Running a program and proving the resulting trace:
//
//	program, err := cairom.ParseProgram(compiledJSON)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	vm := cairom.NewVM(program, cairom.DefaultRunOptions())
//	result, err := vm.Execute("main", args)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	proof, err := cairom.Prove(result, cairom.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Verifying a proof:
//
//	if err := cairom.Verify(proof); err != nil {
//		log.Fatal(err)
//	}
//
// # Architecture
//
// Cairo-M uses a hybrid public/private architecture:
//
//   - pkg/cairom/: public API (this package)
//   - internal/cairom/: private implementation (not importable)
//
// The public API provides stable surfaces for program parsing, VM
// execution, and STARK proving/verification. Implementation details in
// internal/ — the field arithmetic, the memory and relations layers, FRI —
// can change without breaking the public API.
//
// # References
//
//   - STARK Paper: https://eprint.iacr.org/2018/046
//   - FRI Paper: https://eccc.weizmann.ac.il/report/2017/134/
package cairom
