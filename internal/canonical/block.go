package canonical

// BlockType tags the variant of an assembled Block.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockToolCall BlockType = "tool_call"
	BlockThinking BlockType = "thinking"
)

// Block is a maximal contiguous run of streaming output belonging to one
// logical unit, as assembled by the BlockAssembler from a Chunk stream.
//
// TextBlock.ID is always "content" (one text block per choice). A
// ToolCallBlock's ID is the tool_use id from its first chunk.
// ThinkingBlock IDs are synthesized monotonically ("thinking-0", ...).
type Block struct {
	Type BlockType `json:"type"`
	ID   string    `json:"id"`
	Done bool      `json:"done"`

	// BlockText / BlockThinking
	Text string `json:"text,omitempty"`

	// BlockToolCall. ArgsJSON accumulates raw characters; the core never
	// parses it (see the Open Question in the design notes).
	ToolName string `json:"tool_name,omitempty"`
	ArgsJSON string `json:"args_json,omitempty"`
}

// Clone returns a copy of b safe to hand to a policy hook.
func (b Block) Clone() Block {
	return b
}
