package server

import (
	"github.com/ValentinKolb/dTCP/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for turning a request into a response
type IRPCServerAdapter interface {
	// Handle handles a request frame and returns the response frame.
	// It takes the decoded header and the body of the request.
	// If ok is false no response is sent.
	Handle(req common.Head, body []byte) (resp common.Head, respBody []byte, ok bool)
}
