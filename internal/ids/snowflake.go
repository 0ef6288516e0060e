package ids

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out time-sortable ids for entity guids and audit transactions.
// Ids from one node are strictly increasing.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator creates a generator for the given node (0..1023)
func NewGenerator(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// Next returns the next id in its decimal form
func (g *Generator) Next() string {
	return g.node.Generate().String()
}

// Less orders two ids produced by a Generator. Invalid ids sort first.
func Less(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA != nil && errB != nil:
		return a < b
	case errA != nil:
		return true
	case errB != nil:
		return false
	}
	return ai < bi
}
