package store

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/board-sim/board-sim/sim"
)

// snapshotEnvelope is the persisted layout of a batch snapshot.
type snapshotEnvelope struct {
	Version  int             `json:"version"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// EncodeSnapshot serializes a snapshot into its versioned envelope.
func EncodeSnapshot(s *sim.Snapshot) (string, error) {
	if s == nil {
		return "", &sim.Error{Kind: sim.KindSerialization, Op: "encode snapshot", Err: fmt.Errorf("nil snapshot")}
	}
	body, err := json.Marshal(s)
	if err != nil {
		return "", &sim.Error{Kind: sim.KindSerialization, Op: "encode snapshot", Err: err}
	}
	out, err := json.Marshal(snapshotEnvelope{Version: sim.SnapshotVersion, Snapshot: body})
	if err != nil {
		return "", &sim.Error{Kind: sim.KindSerialization, Op: "encode snapshot", Err: err}
	}
	return string(out), nil
}

// DecodeSnapshot reads a persisted snapshot. Reads are lenient: an absent,
// malformed or unknown-version payload yields an empty snapshot and a warning.
// The executor refuses to simulate an empty snapshot, so a bad payload surfaces
// as a run fault rather than a silent success.
func DecodeSnapshot(batchID, data string) *sim.Snapshot {
	empty := &sim.Snapshot{Version: sim.SnapshotVersion}
	if data == "" {
		logrus.WithField("batch", batchID).Warn("batch has no snapshot payload; using empty snapshot")
		return empty
	}
	var env snapshotEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		logrus.WithFields(logrus.Fields{"batch": batchID, "error": err}).Warn("malformed snapshot envelope; using empty snapshot")
		return empty
	}
	if env.Version != sim.SnapshotVersion {
		logrus.WithFields(logrus.Fields{"batch": batchID, "version": env.Version}).Warn("unknown snapshot version; using empty snapshot")
		return empty
	}
	var snap sim.Snapshot
	if err := json.Unmarshal(env.Snapshot, &snap); err != nil {
		logrus.WithFields(logrus.Fields{"batch": batchID, "error": err}).Warn("malformed snapshot body; using empty snapshot")
		return empty
	}
	return &snap
}
