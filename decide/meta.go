package decide

// These variables will be linked in at build time
// and are to do with the build/source
var (
	BuildDate string
	Commit    string
	Version   string
)

// ProtocolVersion is the version of the trustee wire protocol.
// A trustee only talks to a server with the same version.
var ProtocolVersion = "1.0"

// ShortCommit is the commit truncated for log lines
func ShortCommit() string {
	if len(Commit) > 8 {
		return Commit[0:8]
	}
	if Commit == "" {
		return "unknown"
	}
	return Commit
}
