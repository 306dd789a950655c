package server

import (
	"github.com/ValentinKolb/dTCP/rpc/common"
)

type echoAdapter struct{}

// NewEchoAdapter returns an adapter answering every request with its own body.
// The response carries the request's MsgType+1 and TranID, and swaps source and destination.
func NewEchoAdapter() IRPCServerAdapter {
	return &echoAdapter{}
}

func (a *echoAdapter) Handle(req common.Head, body []byte) (common.Head, []byte, bool) {
	resp := req
	resp.MsgType = req.MsgType + 1
	resp.SourceID, resp.DestID = req.DestID, req.SourceID
	return resp, body, true
}
