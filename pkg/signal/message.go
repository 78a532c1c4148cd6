package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

// Envelope types
const (
	TypeJoin         = "Join"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICE          = "ice"
	TypeCameraChange = "cameraChange"
	TypeSystem       = "System"
)

// Sender roles
const (
	RoleBroadcaster = "Broadcaster"
	RoleViewer      = "Viewer"
	RoleServer      = "Server"
)

// Envelope is one signaling frame. Payload is type specific: a JSON SDP
// or Candidate, a bare source name for cameraChange, free text for System.
type Envelope struct {
	Type       string    `json:"type"`
	SenderID   string    `json:"senderId"`
	SenderType string    `json:"senderType,omitempty"`
	ReceiverID string    `json:"receiverId"`
	Payload    string    `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
}

// timestampLayouts are tried in order. Zoneless stamps are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts a missing, empty or unparseable timestamp; the
// timestamp is informational and is left zero when it cannot be read.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	aux := struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Timestamp = time.Time{}
	if aux.Timestamp == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, aux.Timestamp); err == nil {
			e.Timestamp = ts
			return nil
		}
	}
	return nil
}

// SDP is the payload of offer and answer envelopes
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the payload of ice envelopes
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// Init converts c for pion
func (c Candidate) Init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

// CandidateFromInit converts a pion candidate
func CandidateFromInit(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
}

// DecodeError reports a malformed frame or payload
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses one frame
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &DecodeError{What: "envelope", Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &DecodeError{What: "envelope", Err: errors.New("missing type")}
	}
	return env, nil
}

// Encode serializes env, stamping the current time if unset
func Encode(env Envelope) ([]byte, error) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	return json.Marshal(env)
}

// DecodeSDP parses an offer or answer payload
func DecodeSDP(payload string) (SDP, error) {
	var sdp SDP
	if err := json.Unmarshal([]byte(payload), &sdp); err != nil {
		return SDP{}, &DecodeError{What: "sdp payload", Err: err}
	}
	if sdp.SDP == "" {
		return SDP{}, &DecodeError{What: "sdp payload", Err: errors.New("empty sdp")}
	}
	return sdp, nil
}

// EncodeSDP builds an offer or answer payload
func EncodeSDP(sdpType, sdp string) string {
	data, _ := json.Marshal(SDP{Type: sdpType, SDP: sdp})
	return string(data)
}

// DecodeCandidate parses an ice payload
func DecodeCandidate(payload string) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Candidate{}, &DecodeError{What: "ice payload", Err: err}
	}
	return c, nil
}

// EncodeCandidate builds an ice payload
func EncodeCandidate(c Candidate) string {
	data, _ := json.Marshal(c)
	return string(data)
}
