package aave

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const governanceABI = `[
  {"type":"event","name":"ProposalCreated","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":false},
    {"name":"creator","type":"address","indexed":true},
    {"name":"executor","type":"address","indexed":true},
    {"name":"targets","type":"address[]","indexed":false},
    {"name":"values","type":"uint256[]","indexed":false},
    {"name":"signatures","type":"string[]","indexed":false},
    {"name":"calldatas","type":"bytes[]","indexed":false},
    {"name":"withDelegatecalls","type":"bool[]","indexed":false},
    {"name":"startBlock","type":"uint256","indexed":false},
    {"name":"endBlock","type":"uint256","indexed":false},
    {"name":"strategy","type":"address","indexed":false},
    {"name":"ipfsHash","type":"bytes32","indexed":false}]},
  {"type":"event","name":"VoteEmitted","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":false},
    {"name":"voter","type":"address","indexed":true},
    {"name":"support","type":"bool","indexed":false},
    {"name":"votingPower","type":"uint256","indexed":false}]},
  {"type":"function","name":"getProposalState","stateMutability":"view",
    "inputs":[{"name":"proposalId","type":"uint256"}],
    "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"getProposalById","stateMutability":"view",
    "inputs":[{"name":"proposalId","type":"uint256"}],
    "outputs":[{"name":"","type":"tuple","components":[
      {"name":"id","type":"uint256"},
      {"name":"creator","type":"address"},
      {"name":"executor","type":"address"},
      {"name":"targets","type":"address[]"},
      {"name":"values","type":"uint256[]"},
      {"name":"signatures","type":"string[]"},
      {"name":"calldatas","type":"bytes[]"},
      {"name":"withDelegatecalls","type":"bool[]"},
      {"name":"startBlock","type":"uint256"},
      {"name":"endBlock","type":"uint256"},
      {"name":"executionTime","type":"uint256"},
      {"name":"forVotes","type":"uint256"},
      {"name":"againstVotes","type":"uint256"},
      {"name":"executed","type":"bool"},
      {"name":"canceled","type":"bool"},
      {"name":"strategy","type":"address"},
      {"name":"ipfsHash","type":"bytes32"}]}]}
]`

// Quorum is derived from the voting strategy's total supply and the
// executor's minimum quorum percentage.
const quorumABI = `[
  {"type":"function","name":"getTotalVotingSupplyAt","stateMutability":"view",
    "inputs":[{"name":"blockNumber","type":"uint256"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"MINIMUM_QUORUM","stateMutability":"view",
    "inputs":[],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"ONE_HUNDRED_WITH_PRECISION","stateMutability":"view",
    "inputs":[],
    "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	govABI    = mustParse(governanceABI)
	helperABI = mustParse(quorumABI)
)

// proposalWithoutVotes mirrors IAaveGovernanceV2.ProposalWithoutVotes.
type proposalWithoutVotes struct {
	Id                *big.Int
	Creator           common.Address
	Executor          common.Address
	Targets           []common.Address
	Values            []*big.Int
	Signatures        []string
	Calldatas         [][]byte
	WithDelegatecalls []bool
	StartBlock        *big.Int
	EndBlock          *big.Int
	ExecutionTime     *big.Int
	ForVotes          *big.Int
	AgainstVotes      *big.Int
	Executed          bool
	Canceled          bool
	Strategy          common.Address
	IpfsHash          [32]byte
}

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
