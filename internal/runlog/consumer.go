package runlog

import (
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID names this process in the consumer group. Hostnames repeat
// across restarts, so a ULID keeps every incarnation distinct; pending
// entries of dead consumers are reclaimed by XAUTOCLAIM.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = ""
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		host = "clockdesk"
	}
	return host + "-" + ulid.Make().String()
}
