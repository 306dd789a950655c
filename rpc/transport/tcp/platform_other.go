//go:build !linux

package tcp

import (
	"github.com/ValentinKolb/dTCP/rpc/common"
	"net/netip"
)

const (
	shutRD   = 0
	shutWR   = 1
	shutRDWR = 2
)

func openPoller(int) (poller, error) {
	return nil, ErrUnsupportedPlatform
}

func listenTCP(string, uint16, int) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, ErrUnsupportedPlatform
}

func acceptTCP(int) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, ErrUnsupportedPlatform
}

func connectTCP(string, string, uint16) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, ErrUnsupportedPlatform
}

func tuneSocket(int, *common.TransportConfig) error {
	return ErrUnsupportedPlatform
}

func readFull(int, []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func sendData(int, []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func shutdownFd(int, int) error {
	return ErrUnsupportedPlatform
}

func closeFd(int) error {
	return ErrUnsupportedPlatform
}
