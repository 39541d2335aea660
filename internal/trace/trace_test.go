package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsys/sts-replay/internal/event"
)

func TestParseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"class":"SwitchFailure","label":"i1","time":[100,5],"round":0,"dependent_labels":["n1"],"dpid":1}` + "\n")
	buf.WriteString(`{"class":"StateChange","label":"n1","time":[100,6],"round":0,"state_key":"k","state_value":"v"}` + "\n")

	events, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, events, 2)

	in, ok := events[0].(*event.InputEvent)
	require.True(t, ok)
	assert.Equal(t, "i1", in.Label())
	assert.Equal(t, event.KindSwitchFailure, in.Kind)
	assert.Equal(t, uint64(1), in.DPID)
	assert.Equal(t, []string{"n1"}, in.DependentLabels)

	internal, ok := events[1].(*event.InternalEvent)
	require.True(t, ok)
	assert.Equal(t, event.KindStateChange, internal.Kind)
	assert.Equal(t, "k", internal.Fingerprint.StateKey)
}

func TestParseSkipsTrailingConfigRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"class":"SwitchFailure","label":"i1","time":[1,0],"round":0,"dpid":1}` + "\n")
	buf.WriteString(`{"class":"Config","config":{"foo":"bar"}}` + "\n")

	events, err := Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestParseUnknownClassBecomesUnknownInputEvent(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"class":"SomeFutureEventType","label":"i1","time":[1,0],"round":0}` + "\n")

	events, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, events, 1)
	in, ok := events[0].(*event.InputEvent)
	require.True(t, ok)
	assert.Equal(t, event.KindUnknown, in.Kind)
}

func TestParseMalformedLineErrors(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("not json\n")
	_, err := Parse(&buf)
	assert.Error(t, err)
}

func TestWriteThenParseRoundTrips(t *testing.T) {
	events := []event.Event{
		&event.InputEvent{EventLabel: "i1", Kind: event.KindLinkFailure, RecordedTime: event.Timestamp{Sec: 5, Usec: 2}, StartDPID: 1, EndDPID: 2},
		&event.InternalEvent{EventLabel: "n1", Kind: event.KindMessageReceipt, RecordedTime: event.Timestamp{Sec: 5, Usec: 3}, Fingerprint: event.Fingerprint{MessageDigest: "d"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, events, nil))

	parsed, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "i1", parsed[0].Label())
	assert.Equal(t, "n1", parsed[1].Label())
}

func TestWritePathCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "trace.json")
	events := []event.Event{&event.InputEvent{EventLabel: "i1", Kind: event.KindSwitchFailure}}
	require.NoError(t, WritePath(path, events, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SwitchFailure")
}

func TestParseUnackedMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "superlog.json")
	internals, existed, err := ParseUnacked(path)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Nil(t, internals)
}

func TestParseUnackedReadsInternalEventsOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "superlog.json")
	unackedPath := UnackedPath(path)
	content := `{"class":"SwitchFailure","label":"i1","time":[1,0],"round":0,"dpid":1}` + "\n" +
		`{"class":"MessageReceipt","label":"n1","time":[1,1],"round":0,"message_digest":"d"}` + "\n"
	require.NoError(t, os.WriteFile(unackedPath, []byte(content), 0o644))

	internals, existed, err := ParseUnacked(path)
	require.NoError(t, err)
	assert.True(t, existed)
	require.Len(t, internals, 1)
	assert.Equal(t, "n1", internals[0].Label())
}
