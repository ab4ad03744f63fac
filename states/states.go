// Package states stores the classification of Fock states into invariant blocks.
package states

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/expr"
)

// InvalidBlock marks the absence of a block, for example the image of a block that an operator annihilates.
const InvalidBlock = -1

type Classification struct {
	blocks  [][]expr.FockState
	blockOf []int
	inner   []int
}

// New builds a classification from the states of each block.
// Every Fock state in [0, dim) must appear in exactly one block.
func New(dim int, blocks [][]expr.FockState) (*Classification, error) {
	c := &Classification{blocks: blocks, blockOf: make([]int, dim), inner: make([]int, dim)}
	for i := range c.blockOf {
		c.blockOf[i] = InvalidBlock
	}
	for b, sts := range blocks {
		for i, s := range sts {
			if int(s) >= dim {
				return nil, errors.Errorf("state %d outside dimension %d", s, dim)
			}
			if c.blockOf[s] != InvalidBlock {
				return nil, errors.Errorf("state %d in blocks %d and %d", s, c.blockOf[s], b)
			}
			c.blockOf[s] = b
			c.inner[s] = i
		}
	}
	for s, b := range c.blockOf {
		if b == InvalidBlock {
			return nil, errors.Errorf("state %d unclassified", s)
		}
	}
	return c, nil
}

func (c *Classification) NumBlocks() int { return len(c.blocks) }
func (c *Classification) Dim() int       { return len(c.blockOf) }

func (c *Classification) BlockSize(b int) int { return len(c.blocks[b]) }

func (c *Classification) States(b int) []expr.FockState { return c.blocks[b] }

func (c *Classification) State(b, inner int) expr.FockState { return c.blocks[b][inner] }

func (c *Classification) Block(s expr.FockState) int { return c.blockOf[s] }

func (c *Classification) Inner(s expr.FockState) int { return c.inner[s] }

func (c *Classification) String() string {
	return fmt.Sprintf("%d states in %d blocks", c.Dim(), c.NumBlocks())
}
