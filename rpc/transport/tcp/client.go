package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"io"
	"sync/atomic"
)

// ClientPool originates outbound TCP connections. All of them are served by
// one I/O worker, which delivers responses and broken links to the handler.
type ClientPool struct {
	label   string
	conf    common.ClientConfig
	worker  *worker
	stopped atomic.Bool
	metrics *transportMetrics
}

// StartClientPool creates the pool and starts its worker. conf.LocalIP, when
// set, is the local address outbound connections are bound to.
func StartClientPool(conf common.ClientConfig, handler transport.Handler, service any) (*ClientPool, error) {
	conf.Transport.Normalize()

	p := &ClientPool{
		label: conf.Label,
		conf:  conf,
	}
	p.metrics = newTransportMetrics("client", conf.Label, p.Connections)

	w, err := newWorker(0, conf.Label, &p.conf.Transport, handler, service, p.metrics)
	if err != nil {
		Logger.Errorf("%s, failed to create tcp client worker: %v", conf.Label, err)
		return nil, err
	}
	w.start()
	p.worker = w

	Logger.Infof("%s, tcp client is initialized, local ip:%q", p.label, conf.LocalIP)
	return p, nil
}

// OpenConnection connects to ip:port and registers the connection with the
// pool's worker. appHandle is passed to the handler with every receipt until
// the handler replaces it.
func (p *ClientPool) OpenConnection(ip string, port uint16, appHandle any) (ConnHandle, error) {
	if p.stopped.Load() {
		return ConnHandle{}, fmt.Errorf("TCP:%s client: %w", p.label, ErrAlreadyStopped)
	}

	fd, peer, err := connectTCP(p.conf.LocalIP, ip, port)
	if err != nil {
		Logger.Errorf("%s, failed to connect to %s:%d: %v", p.label, ip, port, err)
		return ConnHandle{}, fmt.Errorf("TCP:%s failed to connect to %s:%d: %w", p.label, ip, port, err)
	}

	if err := tuneSocket(fd, &p.conf.Transport); err != nil {
		Logger.Warningf("%s %v, failed to set socket options: %v", p.label, peer, err)
	}

	h, err := p.worker.insert(fd, peer, appHandle)
	if err != nil {
		_ = closeFd(fd)
		Logger.Errorf("%s %v, failed to register connection: %v", p.label, peer, err)
		return ConnHandle{}, err
	}

	Logger.Debugf("%s %v, new connection is opened, FD:%d", p.label, peer, fd)
	return h, nil
}

// Stop stops the pool's worker and releases its connections without
// broken-link notifications. A second call returns ErrAlreadyStopped.
func (p *ClientPool) Stop() error {
	if !p.stopped.CompareAndSwap(false, true) {
		return fmt.Errorf("TCP:%s client: %w", p.label, ErrAlreadyStopped)
	}
	err := p.worker.stop()
	Logger.Infof("%s, tcp client is cleaned up", p.label)
	return err
}

func (p *ClientPool) Label() string {
	return p.label
}

// Connections returns the number of live outbound connections
func (p *ClientPool) Connections() int {
	if p.worker == nil {
		return 0
	}
	return p.worker.reg.size()
}

func (p *ClientPool) Stats() WorkerStats {
	return p.worker.snapshot()
}

// WritePrometheus writes the pool's metrics in Prometheus text format
func (p *ClientPool) WritePrometheus(w io.Writer) {
	p.metrics.writePrometheus(w)
}
