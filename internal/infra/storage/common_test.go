package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipWithoutDocker_UnreachableHost(t *testing.T) {
	t.Setenv("DOCKER_HOST", "unix:///nonexistent/docker.sock")

	var sub *testing.T
	reached := false
	t.Run("no docker", func(st *testing.T) {
		sub = st
		skipWithoutDocker(st)
		reached = true
	})

	assert.True(t, sub.Skipped())
	assert.False(t, reached)
}
