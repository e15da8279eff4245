package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const requestTimeout = 60 * time.Second

// request sends one protocol request to the daemon socket and decodes the
// response. Every client command goes through here.
func request(payload map[string]any) (map[string]any, error) {
	conn, err := net.DialTimeout("unix", clientSocketPath(), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("cannot reach daemon at %s (is it running?): %w", clientSocketPath(), err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp map[string]any
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp["status"] == "error" {
		msg, _ := resp["message"].(string)
		return nil, fmt.Errorf("daemon error: %s", msg)
	}
	return resp, nil
}

// decodeField re-marshals one response field into a typed value.
func decodeField(resp map[string]any, field string, out any) error {
	raw, err := json.Marshal(resp[field])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
