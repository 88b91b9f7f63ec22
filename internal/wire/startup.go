package wire

const cqlVersion = "3.0.0"

// ValidateStartup checks that the client selected a CQL_VERSION the server
// speaks.
func ValidateStartup(options [][2]string) bool {
	for _, kv := range options {
		if kv[0] == "CQL_VERSION" && kv[1] == cqlVersion {
			return true
		}
	}
	return false
}

// DefaultStartup is the option set a well-behaved client sends.
func DefaultStartup() *Startup {
	return &Startup{Options: [][2]string{{"CQL_VERSION", cqlVersion}}}
}

// DefaultSupported lists the options advertised in a SUPPORTED response.
func DefaultSupported() *Supported {
	return &Supported{Entries: []MultimapEntry{
		{Key: "CQL_VERSION", Values: []string{cqlVersion}},
		{Key: "COMPRESSION", Values: []string{}},
	}}
}
