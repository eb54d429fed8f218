// Package engine is the transport and streaming layer of the Docker Engine API
// client.
//
// A Client resolves a daemon URL (unix://, npipe://, tcp://, http(s)://) to a
// Transport, keeps one pooled Connection for ordinary calls, and opens single
// Connections for log follows so a long stream never holds a pool slot.
//
// Requests go through a Requester. Executor validates the response status
// against the request's expected set and returns *ProtocolError otherwise;
// RetryingExecutor repeats attempts that fail with a retryable status. Response
// bodies are converted by one of a fixed set of strategies: StringBody,
// StatusOnly, StatusAndBody, JSON and Stream. Stream decodes the daemon's
// chunked JSON progress output with StreamDecoder, one document per callback,
// whatever the network read boundaries.
//
// Log output is consumed either synchronously with Client.FollowLogs or on a
// background goroutine with a LogHandle, which Stop cancels promptly by closing
// its socket.
package engine
