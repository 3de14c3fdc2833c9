package fanout

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/pepolabs/hookpipe/pkg/core"
)

var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hookpipe:notification"))

// eventIdentity names one event: kind, actors, subject, payload and, when
// set, the action time. Events equal in all of these are the same event.
func eventIdentity(kind core.NotificationKind, n Notification) (uuid.UUID, error) {
	var at int64
	if !n.Timestamp.IsZero() {
		at = n.Timestamp.UnixMilli()
	}
	b, err := json.Marshal(struct {
		Kind    core.NotificationKind `json:"kind"`
		Actors  []uint64              `json:"actors"`
		Subject uint64                `json:"subject"`
		Payload map[string]any        `json:"payload"`
		At      int64                 `json:"at"`
	}{kind, n.ActorIDs, n.SubjectUserID, n.Payload, at})
	if err != nil {
		return uuid.Nil, fmt.Errorf("fanout: event identity: %w", err)
	}
	return uuid.NewSHA1(recordNamespace, b), nil
}

// recordUUID is the record id of one recipient of an event.
func recordUUID(event uuid.UUID, userID uint64) string {
	return uuid.NewSHA1(event, []byte(strconv.FormatUint(userID, 10))).String()
}
