package signal

import "context"

func (ctl *SignalWSController) handlePing(_ context.Context, c *WsSignalConn, _ []byte) error {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(c, resp)
	return nil
}
