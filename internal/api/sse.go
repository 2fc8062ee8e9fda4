package api

import (
	"encoding/json"
	"fmt"
	"io"

	"avsync/internal/events"
)

// writeSSE encodes one event in server-sent-event framing, using the
// per-session sequence number as the event id so clients can resynchronize.
func writeSSE(w io.Writer, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Sequence, evt.Type, data)
	return err
}
