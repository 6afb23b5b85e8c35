// Command cairo-m-prover runs a compiled Cairo-M program and proves its
// execution trace (§6: "CLI surface (representative, not normative for the
// core)").
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/prover"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/protocols"
	"github.com/cairo-m/cairo-m-prover/pkg/cairom"
)

func main() {
	compiledFile := flag.String("compiled-file", "", "path to a compiled Cairo-M program (JSON artefact, §6)")
	entrypoint := flag.String("entrypoint", "main", "name of the entrypoint to run, looked up in the program's function table")
	arguments := flag.String("arguments", "", "comma-separated decimal entrypoint arguments")
	verbose := flag.Bool("verbose", false, "log each proving stage to stderr")
	debugAssertions := flag.Bool("debug-assertions", false, "re-check every component's row constraints before committing its trace")
	flag.Parse()

	if *compiledFile == "" {
		fatal("--compiled-file is required")
	}

	data, err := os.ReadFile(*compiledFile)
	if err != nil {
		fatal(fmt.Sprintf("reading %s: %v", *compiledFile, err))
	}

	program, err := cairom.ParseProgram(data)
	if err != nil {
		fatal(fmt.Sprintf("parsing compiled program: %v", err))
	}
	logVerbose(*verbose, fmt.Sprintf("loaded program: %d instructions, compiler %q", len(program.Instructions), program.CompilerVersion))

	args, err := parseArguments(*arguments)
	if err != nil {
		fatal(fmt.Sprintf("parsing --arguments: %v", err))
	}

	m := cairom.NewVM(program, cairom.DefaultRunOptions())
	logVerbose(*verbose, fmt.Sprintf("executing entrypoint %q with %d argument(s)...", *entrypoint, len(args)))
	result, err := m.Execute(*entrypoint, args)
	if err != nil {
		fatal(fmt.Sprintf("execution failed: %v", err))
	}
	logVerbose(*verbose, fmt.Sprintf("execution halted after %d steps", result.StepsRun))

	logVerbose(*verbose, "generating proof...")
	cfg := cairom.DefaultConfig()
	cfg.DebugAssertions = *debugAssertions
	proof, err := cairom.Prove(result, cfg)
	if err != nil {
		fatal(fmt.Sprintf("proof generation failed: %v", err))
	}
	logVerbose(*verbose, fmt.Sprintf("proof generated: %d component(s), composition size %d", len(proof.Claim.Components), proof.CompositionSize))

	out := proofArtefact{
		Claim:            proof.Claim,
		InteractionClaim: proof.InteractionClaim,
		StarkProof: starkProofArtefact{
			PreprocessedRoot: proof.PreprocessedRoot,
			ComponentRoots:   proof.ComponentRoots,
			InteractionRoots: proof.InteractionRoots,
			FRI:              proof.FRI,
			CompositionSize:  proof.CompositionSize,
			HashFunction:     proof.HashFunction,
		},
		InteractionPow: proof.InteractionClaim.PowNonce,
	}
	bytes, err := json.Marshal(out)
	if err != nil {
		fatal(fmt.Sprintf("serializing proof: %v", err))
	}
	os.Stdout.Write(bytes)
	os.Stdout.Write([]byte("\n"))
}

// proofArtefact mirrors the serialized shape spec §6 names for the Proof
// artefact: claim, interaction_claim, stark_proof, interaction_pow.
type proofArtefact struct {
	Claim            cairom.Claim            `json:"claim"`
	InteractionClaim cairom.InteractionClaim `json:"interaction_claim"`
	StarkProof       starkProofArtefact       `json:"stark_proof"`
	InteractionPow   uint64                   `json:"interaction_pow"`
}

type starkProofArtefact struct {
	PreprocessedRoot []byte                 `json:"preprocessed_root"`
	ComponentRoots   []prover.ComponentRoot `json:"component_roots"`
	InteractionRoots []prover.ComponentRoot `json:"interaction_roots"`
	FRI              *protocols.FRIProof    `json:"fri"`
	CompositionSize  int                    `json:"composition_size"`
	HashFunction     string                 `json:"hash_function"`
}

// parseArguments decodes a comma-separated list of decimal entrypoint
// arguments into QM31 values (§3: each is one field element; bare decimal
// integers are interpreted as the base-field limb with the other three
// limbs zero).
func parseArguments(s string) ([]core.QM31, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]core.QM31, 0, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("argument %d %q: %w", i, p, err)
		}
		out = append(out, core.QM31FromM31(core.NewM31(v)))
	}
	return out, nil
}

func logVerbose(verbose bool, msg string) {
	if verbose {
		fmt.Fprintln(os.Stderr, "cairo-m-prover:", msg)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "cairo-m-prover: error:", msg)
	os.Exit(1)
}
