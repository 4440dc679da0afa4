package job

import "time"

// Envelope type names exchanged between the worker process and the LiveKit
// server over the signal/command WebSocket, matching the job host's wire
// protocol. These replace the teacher's ad hoc SignalTypeStartJob/
// SignalTypePing string constants with the typed request/response surface.
const (
	EnvelopeInitializeRequest = "initializeRequest"
	EnvelopeStartJobRequest   = "startJobRequest"
	EnvelopePingRequest       = "pingRequest"
	EnvelopePongResponse      = "pongResponse"
	EnvelopeInferenceRequest  = "inferenceRequest"
	EnvelopeInferenceResponse = "inferenceResponse"
	EnvelopeShutdownRequest   = "shutdownRequest"
)

// OrphanWatchdogTimeout is the maximum time a worker tolerates without
// receiving a ping before assuming the server connection is orphaned and
// tearing itself down.
const OrphanWatchdogTimeout = 15 * time.Second

// InitializeRequest is sent once per worker connection, before any job is
// dispatched, carrying the worker's registration identity.
type InitializeRequest struct {
	WorkerID string `json:"workerId"`
	Version  string `json:"version"`
}

// StartJobRequest assigns a job to this worker.
type StartJobRequest struct {
	JobID    string `json:"jobId"`
	RoomName string `json:"roomName"`
	Token    string `json:"token"`
}

// PingRequest is a liveness probe from the server.
type PingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// PongResponse answers a PingRequest.
type PongResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// InferenceRequest asks the worker process to run a local model (e.g. the
// ONNX turn detector) and return a result, keyed by RequestID so responses
// can be correlated out of order.
type InferenceRequest struct {
	RequestID string         `json:"requestId"`
	Method    string         `json:"method"`
	Params    map[string]any `json:"params"`
}

// InferenceResponse answers an InferenceRequest.
type InferenceResponse struct {
	RequestID string  `json:"requestId"`
	Result    float64 `json:"result"`
	Error     string  `json:"error,omitempty"`
}

// ShutdownRequest asks the worker to drain and exit.
type ShutdownRequest struct {
	Reason string `json:"reason"`
}
