package live

import (
	"bytes"
	"strconv"

	"StepFM/model"

	"github.com/cespare/xxhash/v2"
)

// Canonical state serialization. The encoding is order-sensitive and fully
// deterministic: fixed field order, length-prefixed strings, and a fixed
// float formatting. Both sides of the protocol must produce identical bytes
// for semantically identical states, so any change here is a wire format
// change.

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(s)
	buf.WriteByte(';')
}

func writeInt(buf *bytes.Buffer, v int64) {
	buf.WriteString(strconv.FormatInt(v, 10))
	buf.WriteByte(';')
}

func writeFloat(buf *bytes.Buffer, v float64) {
	buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	buf.WriteByte(';')
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte('1')
	} else {
		buf.WriteByte('0')
	}
	buf.WriteByte(';')
}

// CanonicalBytes renders the state into its canonical byte form.
func CanonicalBytes(state *model.SessionState) []byte {
	var buf bytes.Buffer

	buf.WriteString("v1|")
	writeInt(&buf, int64(state.Version))
	writeInt(&buf, int64(state.Tempo))
	writeFloat(&buf, state.Swing)
	writeInt(&buf, int64(len(state.Tracks)))

	for i := range state.Tracks {
		t := &state.Tracks[i]
		buf.WriteByte('T')
		writeString(&buf, t.ID)
		writeString(&buf, t.Name)
		writeString(&buf, t.SampleID)
		writeFloat(&buf, t.Volume)
		writeBool(&buf, t.Muted)
		writeInt(&buf, int64(t.Transpose))

		buf.WriteByte('S')
		for _, on := range t.Steps {
			if on {
				buf.WriteByte('1')
			} else {
				buf.WriteByte('0')
			}
		}
		buf.WriteByte(';')

		buf.WriteByte('P')
		for idx, pl := range t.Plocks {
			if pl == nil {
				continue
			}
			writeInt(&buf, int64(idx))
			if pl.Pitch != nil {
				buf.WriteByte('p')
				writeInt(&buf, int64(*pl.Pitch))
			}
			if pl.Volume != nil {
				buf.WriteByte('v')
				writeFloat(&buf, *pl.Volume)
			}
		}
		buf.WriteByte(';')
	}

	return buf.Bytes()
}

// HashState returns the hex digest of the canonical serialization.
func HashState(state *model.SessionState) string {
	return strconv.FormatUint(xxhash.Sum64(CanonicalBytes(state)), 16)
}
