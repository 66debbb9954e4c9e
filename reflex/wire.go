// Package reflex implements the acknowledged channel: addressed
// request/acknowledge delivery for safety-critical interrupts. The
// relay selects one registrant per topic (round-robin within the
// queue group); the publisher blocks until Ack, Nack, or Timeout,
// retries timeouts with exponential backoff up to a ceiling, and
// dead-letters envelopes that exhaust it.
package reflex

import (
	"encoding/json"
	"fmt"
)

// Ack wire statuses.
const (
	statusAck  = "ack"
	statusNack = "nack"
)

// ackResponse is the consumer's reply on the request subject.
type ackResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func encodeAck() []byte {
	data, _ := json.Marshal(ackResponse{Status: statusAck})
	return data
}

func encodeNack(reason string) []byte {
	data, _ := json.Marshal(ackResponse{Status: statusNack, Reason: reason})
	return data
}

func parseAckResponse(data []byte) (ackResponse, error) {
	var resp ackResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return ackResponse{}, fmt.Errorf("unparseable ack response: %w", err)
	}
	switch resp.Status {
	case statusAck, statusNack:
		return resp, nil
	default:
		return ackResponse{}, fmt.Errorf("unknown ack status %q", resp.Status)
	}
}
