package core

import (
	"fmt"

	"golang.org/x/crypto/sha3"
)

// DefaultPoseidonHasher is the process-wide Poseidon instance used wherever
// the configured hash function is "poseidon" (Merkle leaves, the channel).
var DefaultPoseidonHasher = NewPoseidonM31()

// HashKind selects the leaf/node hash used by a Merkle tree, mirroring the
// donor's Config.HashFunction choice ("sha3" or "poseidon").
type HashKind int

const (
	HashSHA3 HashKind = iota
	HashPoseidon
)

// MerkleTree represents a Merkle tree for committing to data
type MerkleTree struct {
	root   []byte
	leaves [][]byte
	levels [][][]byte
	kind   HashKind
}

// NewMerkleTree creates a new Merkle tree from the given data, hashed with
// the default (SHA3) leaf hash. Use NewMerkleTreeWithHash to select Poseidon.
func NewMerkleTree(data [][]byte) (*MerkleTree, error) {
	return NewMerkleTreeWithHash(data, HashSHA3)
}

// NewMerkleTreeWithHash builds a Merkle tree using the given leaf/node hash.
func NewMerkleTreeWithHash(data [][]byte, kind HashKind) (*MerkleTree, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot create Merkle tree with empty data")
	}

	leaves := make([][]byte, len(data))
	for i, item := range data {
		leaves[i] = computeHash(item, kind)
	}

	levels := [][][]byte{leaves}
	currentLevel := leaves

	for len(currentLevel) > 1 {
		nextLevel := make([][]byte, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			var hash []byte
			if i+1 < len(currentLevel) {
				// Hash two nodes together
				combined := append(append([]byte{}, currentLevel[i]...), currentLevel[i+1]...)
				hash = computeHash(combined, kind)
			} else {
				// Odd number of nodes, hash the last node with itself
				combined := append(append([]byte{}, currentLevel[i]...), currentLevel[i]...)
				hash = computeHash(combined, kind)
			}
			nextLevel = append(nextLevel, hash)
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &MerkleTree{
		root:   currentLevel[0],
		leaves: leaves,
		levels: levels,
		kind:   kind,
	}, nil
}

// Root returns the Merkle root
func (mt *MerkleTree) Root() []byte {
	return mt.root
}

// Proof generates a Merkle proof for the given index
func (mt *MerkleTree) Proof(index int) ([]ProofNode, error) {
	if index < 0 || index >= len(mt.leaves) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(mt.leaves))
	}

	var proof []ProofNode
	currentIndex := index

	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		// Find sibling
		var siblingIndex int
		var isRight bool

		if currentIndex%2 == 0 {
			// Current node is left child
			siblingIndex = currentIndex + 1
			isRight = true
		} else {
			// Current node is right child
			siblingIndex = currentIndex - 1
			isRight = false
		}

		// Add sibling to proof if it exists
		if siblingIndex < len(currentLevel) {
			proof = append(proof, ProofNode{
				Hash:    currentLevel[siblingIndex],
				IsRight: isRight,
			})
		}

		// Move to parent level
		currentIndex /= 2
	}

	return proof, nil
}

// VerifyProof verifies a Merkle proof built with the default (SHA3) hash.
func VerifyProof(root []byte, leaf []byte, proof []ProofNode, index int) bool {
	return VerifyProofWithHash(root, leaf, proof, index, HashSHA3)
}

// VerifyProofWithHash verifies a Merkle proof built with the given leaf hash.
func VerifyProofWithHash(root []byte, leaf []byte, proof []ProofNode, index int, kind HashKind) bool {
	hash := computeHash(leaf, kind)
	currentIndex := index

	for _, node := range proof {
		var combined []byte
		if node.IsRight {
			// Sibling is on the right, current hash goes on the left
			combined = append(append([]byte{}, hash...), node.Hash...)
		} else {
			// Sibling is on the left, current hash goes on the right
			combined = append(append([]byte{}, node.Hash...), hash...)
		}
		hash = computeHash(combined, kind)
		currentIndex /= 2
	}

	return string(hash) == string(root)
}

// ProofNode represents a node in a Merkle proof
type ProofNode struct {
	Hash    []byte
	IsRight bool // true if this node is the right child, false if left
}

// computeHash computes the hash of the input using the selected leaf hash.
func computeHash(data []byte, kind HashKind) []byte {
	switch kind {
	case HashPoseidon:
		return DefaultPoseidonHasher.HashBytesM31(data)
	default:
		h := sha3.Sum256(data)
		return h[:]
	}
}

// MerkleRoot computes the Merkle root of the given data (convenience function)
func MerkleRoot(data [][]byte) ([]byte, error) {
	tree, err := NewMerkleTree(data)
	if err != nil {
		return nil, err
	}
	return tree.Root(), nil
}
