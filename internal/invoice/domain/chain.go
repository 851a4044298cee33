package domain

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Finder loads a single invoice, returning nil when it does not exist.
type Finder func(ctx context.Context, id snowflake.ID) (*Invoice, error)

// Chain is the ordered path from an invoice back to the root original it
// rebills. It is built once and never mutated.
type Chain struct {
	nodes []Invoice
}

// BuildChain follows OriginalInvoiceID from start until it reaches an invoice
// without an original. A missing link ends the chain at the last loaded node.
func BuildChain(ctx context.Context, start Invoice, find Finder) (Chain, error) {
	nodes := []Invoice{start}
	seen := map[snowflake.ID]struct{}{start.ID: {}}
	current := start
	for current.OriginalInvoiceID != nil {
		next, err := find(ctx, *current.OriginalInvoiceID)
		if err != nil {
			return Chain{}, err
		}
		if next == nil {
			break
		}
		if _, loop := seen[next.ID]; loop {
			return Chain{}, fmt.Errorf("rebilling chain for invoice %s loops at %s", start.ID, next.ID)
		}
		seen[next.ID] = struct{}{}
		nodes = append(nodes, *next)
		current = *next
	}
	return Chain{nodes: nodes}, nil
}

// Nodes returns a copy of the chain, start first.
func (c Chain) Nodes() []Invoice {
	out := make([]Invoice, len(c.nodes))
	copy(out, c.nodes)
	return out
}

func (c Chain) Len() int { return len(c.nodes) }

func (c Chain) Start() Invoice { return c.nodes[0] }

// Root is the invoice the whole chain rebills.
func (c Chain) Root() Invoice { return c.nodes[len(c.nodes)-1] }

// Ancestors returns every node after the start, nearest first.
func (c Chain) Ancestors() []Invoice {
	if len(c.nodes) < 2 {
		return nil
	}
	out := make([]Invoice, len(c.nodes)-1)
	copy(out, c.nodes[1:])
	return out
}

// Contains reports whether the invoice is part of the chain.
func (c Chain) Contains(id snowflake.ID) bool {
	for _, n := range c.nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
