package chain

const (
	MethodGetCurrentCycle  = "getCurrentCycle"
	MethodGetCycleInfo     = "getCycleInfo"
	MethodGetEvermarkVotes = "getEvermarkVotesInCycle"

	EventVoteDelegated = "VoteDelegated"
)

// VotingABI covers the read surface of the Evermark voting contract used by the sync engine.
const VotingABI = `[
  {
    "type": "function",
    "name": "getCurrentCycle",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "getCycleInfo",
    "stateMutability": "view",
    "inputs": [{"name": "cycle", "type": "uint256"}],
    "outputs": [
      {"name": "startTime", "type": "uint256"},
      {"name": "endTime", "type": "uint256"},
      {"name": "totalVotes", "type": "uint256"},
      {"name": "totalDelegations", "type": "uint256"},
      {"name": "finalized", "type": "bool"},
      {"name": "activeEvermarksCount", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "getEvermarkVotesInCycle",
    "stateMutability": "view",
    "inputs": [
      {"name": "cycle", "type": "uint256"},
      {"name": "evermarkId", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "event",
    "name": "VoteDelegated",
    "anonymous": false,
    "inputs": [
      {"name": "user", "type": "address", "indexed": true},
      {"name": "evermarkId", "type": "uint256", "indexed": true},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "cycle", "type": "uint256", "indexed": true}
    ]
  }
]`
