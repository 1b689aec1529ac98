package metrics

// Baseline series names emitted by the server. Components reference
// these constants instead of restating the strings.
const (
	AudioBytesReceived   = "audio_bytes_received"
	AudioFramesDropped   = "audio_frames_dropped"
	ASRChunksProcessed   = "asr_chunks_processed"
	ASRErrors            = "asr_errors"
	WSConnectionsTotal   = "ws_connections_total"
	WSDisconnectsTotal   = "ws_disconnects_total"
	QueueDepth           = "queue_depth"
	ActiveSessions       = "active_sessions"
	ProcessingLagSeconds = "processing_lag_seconds"
	InferenceTimeMS      = "inference_time_ms"
	ProcessingTimeMS     = "processing_time_ms"
	GateFailOpenTotal    = "gate_fail_open_total"
	AnalyzerCallsTotal   = "analyzer_calls_total"
	AnalyzerErrors       = "analyzer_errors"
)
