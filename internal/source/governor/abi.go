package governor

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Governor Bravo and OpenZeppelin Governor share the event signatures;
// they differ in how tallies and quorum are read.
const governorABI = `[
  {"type":"event","name":"ProposalCreated","anonymous":false,"inputs":[
    {"name":"proposalId","type":"uint256","indexed":false},
    {"name":"proposer","type":"address","indexed":false},
    {"name":"targets","type":"address[]","indexed":false},
    {"name":"values","type":"uint256[]","indexed":false},
    {"name":"signatures","type":"string[]","indexed":false},
    {"name":"calldatas","type":"bytes[]","indexed":false},
    {"name":"voteStart","type":"uint256","indexed":false},
    {"name":"voteEnd","type":"uint256","indexed":false},
    {"name":"description","type":"string","indexed":false}]},
  {"type":"event","name":"VoteCast","anonymous":false,"inputs":[
    {"name":"voter","type":"address","indexed":true},
    {"name":"proposalId","type":"uint256","indexed":false},
    {"name":"support","type":"uint8","indexed":false},
    {"name":"weight","type":"uint256","indexed":false},
    {"name":"reason","type":"string","indexed":false}]},
  {"type":"function","name":"state","stateMutability":"view",
    "inputs":[{"name":"proposalId","type":"uint256"}],
    "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"proposalVotes","stateMutability":"view",
    "inputs":[{"name":"proposalId","type":"uint256"}],
    "outputs":[{"name":"againstVotes","type":"uint256"},{"name":"forVotes","type":"uint256"},{"name":"abstainVotes","type":"uint256"}]},
  {"type":"function","name":"quorum","stateMutability":"view",
    "inputs":[{"name":"blockNumber","type":"uint256"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"proposals","stateMutability":"view",
    "inputs":[{"name":"proposalId","type":"uint256"}],
    "outputs":[
      {"name":"id","type":"uint256"},
      {"name":"proposer","type":"address"},
      {"name":"eta","type":"uint256"},
      {"name":"startBlock","type":"uint256"},
      {"name":"endBlock","type":"uint256"},
      {"name":"forVotes","type":"uint256"},
      {"name":"againstVotes","type":"uint256"},
      {"name":"abstainVotes","type":"uint256"},
      {"name":"canceled","type":"bool"},
      {"name":"executed","type":"bool"}]},
  {"type":"function","name":"quorumVotes","stateMutability":"view",
    "inputs":[],
    "outputs":[{"name":"","type":"uint256"}]}
]`

var parsedABI = mustParse(governorABI)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
