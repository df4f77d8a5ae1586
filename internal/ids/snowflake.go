package ids

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Snowflake issues time-ordered ledger ids.
type Snowflake struct {
	node *snowflake.Node
}

func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

func (s *Snowflake) NewID() string {
	return s.node.Generate().String()
}
