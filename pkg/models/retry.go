package models

// RetryStats are the retry controller's exposed counters.
type RetryStats struct {
	Attempts            int64 `json:"attempts"`
	Retries             int64 `json:"retries"`
	SuccessesAfterRetry int64 `json:"successes_after_retry"`
	FailuresToFallback  int64 `json:"failures_to_fallback"`
	FallbackActive      bool  `json:"fallback_active"`
	FallbackActivations int64 `json:"fallback_activations"`
}
