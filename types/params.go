package types

import "fmt"

type LLMQType uint8

const (
	LLMQNone            LLMQType = 0xff
	LLMQ50_60           LLMQType = 1
	LLMQ400_60          LLMQType = 2
	LLMQ400_85          LLMQType = 3
	LLMQ100_67          LLMQType = 4
	LLMQ60_75           LLMQType = 5
	LLMQTest            LLMQType = 100
	LLMQDevnet          LLMQType = 101
	LLMQTestV17         LLMQType = 102
	LLMQTestDIP0024     LLMQType = 103
	LLMQTestInstantSend LLMQType = 104
	LLMQDevnetDIP0024   LLMQType = 105
)

func (t LLMQType) String() string {
	if p, ok := LookupParams(t); ok {
		return p.Name
	}
	return fmt.Sprintf("llmq_%d", uint8(t))
}

// Params describes one LLMQ type. Values are fixed per network.
type Params struct {
	Type        LLMQType
	Name        string
	UseRotation bool

	Size      int
	MinSize   int
	Threshold int

	// one DKG session per DKGInterval blocks
	DKGInterval int

	SigningActiveQuorumCount int
	KeepOldConnections       int
	RecoveryMembers          int
}

var availableLLMQs = []Params{
	{Type: LLMQTest, Name: "llmq_test", Size: 3, MinSize: 2, Threshold: 2, DKGInterval: 24, SigningActiveQuorumCount: 2, KeepOldConnections: 3, RecoveryMembers: 3},
	{Type: LLMQTestInstantSend, Name: "llmq_test_instantsend", Size: 3, MinSize: 2, Threshold: 2, DKGInterval: 24, SigningActiveQuorumCount: 2, KeepOldConnections: 3, RecoveryMembers: 3},
	{Type: LLMQTestV17, Name: "llmq_test_v17", Size: 3, MinSize: 2, Threshold: 2, DKGInterval: 24, SigningActiveQuorumCount: 2, KeepOldConnections: 3, RecoveryMembers: 3},
	{Type: LLMQTestDIP0024, Name: "llmq_test_dip0024", UseRotation: true, Size: 4, MinSize: 3, Threshold: 2, DKGInterval: 24, SigningActiveQuorumCount: 2, KeepOldConnections: 4, RecoveryMembers: 3},
	{Type: LLMQDevnet, Name: "llmq_devnet", Size: 12, MinSize: 7, Threshold: 6, DKGInterval: 24, SigningActiveQuorumCount: 4, KeepOldConnections: 5, RecoveryMembers: 6},
	{Type: LLMQDevnetDIP0024, Name: "llmq_devnet_dip0024", UseRotation: true, Size: 8, MinSize: 6, Threshold: 4, DKGInterval: 48, SigningActiveQuorumCount: 2, KeepOldConnections: 4, RecoveryMembers: 4},
	{Type: LLMQ50_60, Name: "llmq_50_60", Size: 50, MinSize: 40, Threshold: 30, DKGInterval: 24, SigningActiveQuorumCount: 24, KeepOldConnections: 25, RecoveryMembers: 25},
	{Type: LLMQ60_75, Name: "llmq_60_75", UseRotation: true, Size: 60, MinSize: 50, Threshold: 45, DKGInterval: 24 * 12, SigningActiveQuorumCount: 32, KeepOldConnections: 64, RecoveryMembers: 25},
	{Type: LLMQ400_60, Name: "llmq_400_60", Size: 400, MinSize: 300, Threshold: 240, DKGInterval: 24 * 12, SigningActiveQuorumCount: 4, KeepOldConnections: 5, RecoveryMembers: 100},
	{Type: LLMQ400_85, Name: "llmq_400_85", Size: 400, MinSize: 350, Threshold: 340, DKGInterval: 24 * 24, SigningActiveQuorumCount: 4, KeepOldConnections: 5, RecoveryMembers: 100},
	{Type: LLMQ100_67, Name: "llmq_100_67", Size: 100, MinSize: 80, Threshold: 67, DKGInterval: 24, SigningActiveQuorumCount: 24, KeepOldConnections: 25, RecoveryMembers: 50},
}

func AvailableLLMQs() []Params {
	out := make([]Params, len(availableLLMQs))
	copy(out, availableLLMQs)
	return out
}

func LookupParams(t LLMQType) (Params, bool) {
	for _, p := range availableLLMQs {
		if p.Type == t {
			return p, true
		}
	}
	return Params{}, false
}

func LookupParamsByName(name string) (Params, bool) {
	for _, p := range availableLLMQs {
		if p.Name == name {
			return p, true
		}
	}
	return Params{}, false
}

// NetworkParams is the set of LLMQs a network runs.
type NetworkParams struct {
	LLMQs                  []Params
	InstantSendType        LLMQType
	DIP0024InstantSendType LLMQType
}

func (np NetworkParams) GetLLMQ(t LLMQType) (Params, bool) {
	for _, p := range np.LLMQs {
		if p.Type == t {
			return p, true
		}
	}
	return Params{}, false
}

func (np NetworkParams) HasLLMQ(t LLMQType) bool {
	_, ok := np.GetLLMQ(t)
	return ok
}

func (np NetworkParams) GetLLMQByName(name string) (Params, bool) {
	for _, p := range np.LLMQs {
		if p.Name == name {
			return p, true
		}
	}
	return Params{}, false
}

func (np NetworkParams) IsInstantSendType(t LLMQType) bool {
	return t == np.InstantSendType || t == np.DIP0024InstantSendType
}

// RegTestNetwork mirrors the regression test network: small quorums, one rotated type.
func RegTestNetwork() NetworkParams {
	var llmqs []Params
	for _, t := range []LLMQType{LLMQTest, LLMQTestInstantSend, LLMQTestV17, LLMQTestDIP0024} {
		p, _ := LookupParams(t)
		llmqs = append(llmqs, p)
	}
	return NetworkParams{
		LLMQs:                  llmqs,
		InstantSendType:        LLMQTestInstantSend,
		DIP0024InstantSendType: LLMQTestDIP0024,
	}
}
