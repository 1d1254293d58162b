package types

// FinalCommitment is the mined result of a DKG session.
type FinalCommitment struct {
	LLMQType    LLMQType
	QuorumHash  Hash
	QuorumIndex int16

	// ValidMembers is ordered like the deterministic member list the commitment was built from.
	ValidMembers []bool

	QuorumPublicKey []byte
	QuorumVvecHash  Hash
}

func (c *FinalCommitment) CountValidMembers() int {
	n := 0
	for _, v := range c.ValidMembers {
		if v {
			n++
		}
	}
	return n
}

func (c *FinalCommitment) IsValidMemberAt(index int) bool {
	if index < 0 || index >= len(c.ValidMembers) {
		return false
	}
	return c.ValidMembers[index]
}

type Block struct {
	Hash   Hash
	Height int32
	Prev   *Block
}

// Ancestor walks back through Prev links. It returns nil when height is out of range.
func (b *Block) Ancestor(height int32) *Block {
	if b == nil || height > b.Height || height < 0 {
		return nil
	}
	cur := b
	for cur != nil && cur.Height > height {
		cur = cur.Prev
	}
	return cur
}

type Masternode struct {
	ProTxHash Hash
}
