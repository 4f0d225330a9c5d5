package utilities

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// IDGenerator hands out snowflake IDs from a single node so that IDs
// generated in the same millisecond stay unique.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator builds a generator for the given node ID. If the node
// cannot be initialized the generator falls back to KSUID strings.
func NewIDGenerator(nodeID int64) *IDGenerator {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return &IDGenerator{}
	}
	return &IDGenerator{node: node}
}

// NodeFromEnv reads SNOWFLAKE_NODE, defaulting to node 1.
func NodeFromEnv() int64 {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return 1
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return 1
	}
	return nodeID
}

// NewID returns the next snowflake ID as a string.
func (g *IDGenerator) NewID() string {
	if g == nil || g.node == nil {
		return NewKSUID()
	}
	return g.node.Generate().String()
}
