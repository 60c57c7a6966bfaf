package canonical

import "time"

// ClientFormat identifies which wire dialect a transaction entered on.
type ClientFormat string

const (
	ClientFormatOpenAI    ClientFormat = "openai"
	ClientFormatAnthropic ClientFormat = "anthropic"
)

// TransactionRecord is the single record of one request/response cycle
// through the pipeline. It is created by the Pipeline Processor at ingress
// with a freshly generated TransactionID and is frozen once send_to_client
// completes; nothing downstream of the pipeline mutates it.
type TransactionRecord struct {
	TransactionID string `json:"transaction_id"`

	// CallID equals TransactionID; it is named separately because the
	// upstream-facing call and the client-facing transaction are
	// conceptually distinct even though the gateway mints them together.
	CallID string `json:"call_id"`

	// SessionID is extracted from the wire request per dialect (§6) and
	// may be empty if the client did not supply one.
	SessionID string `json:"session_id,omitempty"`

	// PolicyClass is the class_ref of the policy (or composed policy set)
	// the orchestrator resolved for this transaction.
	PolicyClass string `json:"policy_class"`

	ClientFormat ClientFormat `json:"client_format"`
	Stream       bool         `json:"stream"`

	OriginalRequest *Request  `json:"original_request"`
	FinalRequest    *Request  `json:"final_request,omitempty"`
	OriginalResponse *Response `json:"original_response,omitempty"`
	FinalResponse    *Response `json:"final_response,omitempty"`

	ReceivedAt  time.Time `json:"received_at"`
	UpstreamAt  time.Time `json:"upstream_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Err *Error `json:"error,omitempty"`
}

// Duration reports the wall-clock span of the transaction once completed;
// it returns 0 if CompletedAt has not been set.
func (t *TransactionRecord) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.ReceivedAt)
}
