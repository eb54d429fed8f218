package internal

// ContainerName is the name a container is created under.
type ContainerName string

// ImageName is an image reference such as alpine:3.20 or registry.local/team/app:v1.
type ImageName string

// Command is the command and arguments to execute in the container.
type Command []string

// Environment is a list of KEY=value variables passed to the container.
type Environment []string
