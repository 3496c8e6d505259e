package redjob

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// makeIdentifier returns an opaque id used for job ids and worker-pool ids.
// Worker ids are built by workerIdentity instead.
func makeIdentifier() string {
	return uuid.NewString()
}

// currentHost is the hostname used in worker identities and orphan
// pruning's host comparison.
func currentHost() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return host
}

// workerIdentity is host+pid+comma-joined queue list.
func workerIdentity(queues []string) string {
	return fmt.Sprintf("%s:%d:%s", currentHost(), os.Getpid(), joinQueues(queues))
}

func joinQueues(queues []string) string {
	out := ""
	for i, q := range queues {
		if i > 0 {
			out += ","
		}
		out += q
	}
	return out
}

// parseWorkerIdentity splits a worker id of the form host:pid:q1,q2 back
// into its parts. Used by orphan pruning to decide whether an entry in the
// worker registry belongs to this host and, if so, whether its pid is
// still alive.
func parseWorkerIdentity(id string) (host string, pid int, queues []string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return "", 0, nil, false
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, nil, false
	}
	if parts[2] != "" {
		queues = strings.Split(parts[2], ",")
	}
	return parts[0], pid, queues, true
}
