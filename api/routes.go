package api

const (
	// PingEndpoint is the liveness check, it answers 200 with an empty body
	PingEndpoint = "/ping"

	// VotingEndpoint creates a voting (POST)
	VotingEndpoint = "/voting/"
	// VotingIDEndpoint reads a voting (GET) or runs a lifecycle action on it (PUT)
	VotingIDEndpoint = "/voting/{id}/"
	// CensusEndpoint adds (POST) or removes (DELETE) voters from the census of a voting
	CensusEndpoint = "/voting/{id}/census/"
	// StoreEndpoint accepts encrypted ballots (POST)
	StoreEndpoint = "/store/"
)
