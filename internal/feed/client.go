package feed

import (
	"context"
	"encoding/json"
	"net"
)

// Send delivers events to a running feed socket, one JSON line each.
func Send(ctx context.Context, path string, events ...Event) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}

	enc := json.NewEncoder(conn)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

// Toggle is a helper for Event.Enabled.
func Toggle(on bool) *bool { return &on }

// Personal.AI order the ending
