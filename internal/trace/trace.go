// Package trace implements the superlog newline-delimited trace format of
// spec §6: parsing records into event.Event values, writing the MCS trace
// output, and reading the auxiliary ".unacked" buffered-internal-events
// file consumed by the new-internal-events diff.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/netsys/sts-replay/internal/event"
)

// record is the on-the-wire superlog shape: a self-describing object whose
// "class" field selects the event variant and which fields are meaningful.
type record struct {
	Class           string   `json:"class"`
	Label           string   `json:"label"`
	Time            [2]int64 `json:"time"`
	Round           int      `json:"round"`
	DependentLabels []string `json:"dependent_labels,omitempty"`

	DPID      uint64 `json:"dpid,omitempty"`
	PortNo    uint32 `json:"port_no,omitempty"`
	StartDPID uint64 `json:"start_dpid,omitempty"`
	StartPort uint32 `json:"start_port_no,omitempty"`
	EndDPID   uint64 `json:"end_dpid,omitempty"`
	EndPort   uint32 `json:"end_port_no,omitempty"`

	UUID string `json:"uuid,omitempty"`
	CID  string `json:"cid,omitempty"`

	OldIngressDPID uint64 `json:"old_ingress_dpid,omitempty"`
	OldIngressPort uint32 `json:"old_ingress_port_no,omitempty"`
	NewIngressDPID uint64 `json:"new_ingress_dpid,omitempty"`
	NewIngressPort uint32 `json:"new_ingress_port_no,omitempty"`

	RequestType string `json:"request_type,omitempty"`

	// Internal-event-only fields. Fingerprint shape is the engine's own
	// extension of the superlog format (spec §6 leaves internal-event wire
	// fields unspecified beyond "a fingerprint identifying the observable").
	FingerprintDigest string `json:"message_digest,omitempty"`
	StateKey          string `json:"state_key,omitempty"`
	StateValue        string `json:"state_value,omitempty"`
	TimeoutDisallowed bool   `json:"timeout_disallowed,omitempty"`

	// Present only on the trailing config record of an MCS trace dump.
	Config json.RawMessage `json:"config,omitempty"`
}

// ParsePath reads and parses a superlog file at path.
func ParsePath(path string) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads newline-delimited superlog records from r.
func Parse(r io.Reader) ([]event.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var events []event.Event
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("trace: line %d: %w", lineNo, err)
		}
		if rec.Class == "Config" {
			continue // trailing config record, not a replayable event
		}
		e, err := recordToEvent(rec)
		if err != nil {
			return nil, fmt.Errorf("trace: line %d: %w", lineNo, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trace: scan: %w", err)
	}
	return events, nil
}

func recordToEvent(rec record) (event.Event, error) {
	kind, known := event.KindFromName(rec.Class)
	ts := event.Timestamp{Sec: rec.Time[0], Usec: rec.Time[1]}

	if event.IsInputKind(kind) || !known {
		return &event.InputEvent{
			EventLabel:      rec.Label,
			RecordedTime:    ts,
			RoundNo:         rec.Round,
			DependentLabels: rec.DependentLabels,
			Kind:            kind, // KindUnknown if !known; filtered by FilterUnsupportedInputTypes
			DPID:            rec.DPID,
			PortNo:          rec.PortNo,
			StartDPID:       rec.StartDPID,
			StartPort:       rec.StartPort,
			EndDPID:         rec.EndDPID,
			EndPort:         rec.EndPort,
			CID:             firstNonEmpty(rec.CID, rec.UUID),
			OldIngressDPID:  rec.OldIngressDPID,
			OldIngressPort:  rec.OldIngressPort,
			NewIngressDPID:  rec.NewIngressDPID,
			NewIngressPort:  rec.NewIngressPort,
			RequestType:     rec.RequestType,
		}, nil
	}

	return &event.InternalEvent{
		EventLabel:   rec.Label,
		RecordedTime: ts,
		RoundNo:      rec.Round,
		Kind:         kind,
		Fingerprint: event.Fingerprint{
			DPID:          rec.DPID,
			CID:           firstNonEmpty(rec.CID, rec.UUID),
			MessageDigest: rec.FingerprintDigest,
			StateKey:      rec.StateKey,
			StateValue:    rec.StateValue,
		},
		TimeoutDisallowed: rec.TimeoutDisallowed,
	}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func eventToRecord(e event.Event) record {
	ts := e.Time()
	base := record{Time: [2]int64{ts.Sec, ts.Usec}, Label: e.Label(), Round: e.Round()}
	switch ev := e.(type) {
	case *event.InputEvent:
		base.Class = event.KindName(ev.Kind)
		base.DependentLabels = ev.DependentLabels
		base.DPID = ev.DPID
		base.PortNo = ev.PortNo
		base.StartDPID = ev.StartDPID
		base.StartPort = ev.StartPort
		base.EndDPID = ev.EndDPID
		base.EndPort = ev.EndPort
		base.CID = ev.CID
		base.OldIngressDPID = ev.OldIngressDPID
		base.OldIngressPort = ev.OldIngressPort
		base.NewIngressDPID = ev.NewIngressDPID
		base.NewIngressPort = ev.NewIngressPort
		base.RequestType = ev.RequestType
	case *event.InternalEvent:
		base.Class = event.KindName(ev.Kind)
		base.DPID = ev.Fingerprint.DPID
		base.CID = ev.Fingerprint.CID
		base.FingerprintDigest = ev.Fingerprint.MessageDigest
		base.StateKey = ev.Fingerprint.StateKey
		base.StateValue = ev.Fingerprint.StateValue
		base.TimeoutDisallowed = ev.TimeoutDisallowed
	}
	return base
}

// Write serializes events as newline-delimited superlog records, optionally
// followed by a trailing config record (pass nil config to omit it, as the
// original unacked-buffer format does).
func Write(w io.Writer, events []event.Event, config json.RawMessage) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(eventToRecord(e)); err != nil {
			return fmt.Errorf("trace: encode %s: %w", e.Label(), err)
		}
	}
	if config != nil {
		if err := enc.Encode(record{Class: "Config", Config: config}); err != nil {
			return fmt.Errorf("trace: encode config record: %w", err)
		}
	}
	return nil
}

// WritePath writes events (plus an optional trailing config record) to path,
// creating the file's parent directory if needed. This is the MCS trace
// output of spec §6.
func WritePath(path string, events []event.Event, config json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("trace: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trace: create %s: %w", path, err)
	}
	defer f.Close()
	return Write(f, events, config)
}

// UnackedPath returns the auxiliary ".unacked" path for a given superlog
// path, per spec §6.
func UnackedPath(superlogPath string) string {
	return superlogPath + ".unacked"
}

// ParseUnacked reads the ".unacked" buffered-internal-events file for
// superlogPath. A missing file is not an error: it returns (nil, false,
// nil), matching the original's "file from original run does not exist"
// warn-and-skip behavior (mcs_finder.py's _track_new_internal_events).
func ParseUnacked(superlogPath string) ([]*event.InternalEvent, bool, error) {
	path := UnackedPath(superlogPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}
	events, err := ParsePath(path)
	if err != nil {
		return nil, true, err
	}
	var internals []*event.InternalEvent
	for _, e := range events {
		if ie, ok := e.(*event.InternalEvent); ok {
			internals = append(internals, ie)
		}
	}
	return internals, true, nil
}
