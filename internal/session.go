package internal

import (
	"fmt"
	"math/rand/v2"
)

type Session struct {
	id int64
}

// GenerateSession creates a new session with a random numeric identifier.
// The session names the containers and temporary tags one CLI invocation creates.
func GenerateSession() Session {
	return Session{id: rand.Int64N(10000)}
}

// String returns the string representation of the session, equivalent to calling ContainerName().
func (s Session) String() string {
	return string(s.ContainerName())
}

// ContainerName returns the container name in the format "dockwire-<number>".
func (s Session) ContainerName() ContainerName {
	return ContainerName(fmt.Sprintf("dockwire-%d", s.id))
}
