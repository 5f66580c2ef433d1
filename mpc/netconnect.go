package mpc

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
)

// DefaultPeerTimeout bounds every single send or receive.
const DefaultPeerTimeout = 30 * time.Second

// Network connects one device of this party to the same device of the
// two other parties.
type Network struct {
	pid     PartyID
	device  int
	timeout time.Duration
	Rand    *Random

	conns     map[PartyID]net.Conn
	listeners map[PartyID]net.Listener

	// Variables to keep track of the bytes that are sent/received
	mu            sync.Mutex
	SentBytes     map[PartyID]uint64
	ReceivedBytes map[PartyID]uint64
	loggingActive bool
}

type ParallelNetworks []*Network

func newNetwork(pid PartyID, device int, timeout time.Duration) *Network {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	return &Network{
		pid:           pid,
		device:        device,
		timeout:       timeout,
		conns:         make(map[PartyID]net.Conn),
		listeners:     make(map[PartyID]net.Listener),
		SentBytes:     make(map[PartyID]uint64),
		ReceivedBytes: make(map[PartyID]uint64),
		loggingActive: true,
	}
}

func (netObj *Network) EnableLogging() {
	netObj.mu.Lock()
	netObj.loggingActive = true
	netObj.mu.Unlock()
}

func (netObj *Network) DisableLogging() {
	netObj.mu.Lock()
	netObj.loggingActive = false
	netObj.mu.Unlock()
}

func (netObj *Network) UpdateSenderLog(to PartyID, nbytes int) {
	netObj.mu.Lock()
	defer netObj.mu.Unlock()
	if netObj.loggingActive {
		netObj.SentBytes[to] += uint64(nbytes)
	}
}

func (netObj *Network) UpdateReceiverLog(from PartyID, nbytes int) {
	netObj.mu.Lock()
	defer netObj.mu.Unlock()
	if netObj.loggingActive {
		netObj.ReceivedBytes[from] += uint64(nbytes)
	}
}

func (netObj *Network) ResetNetworkLog() {
	netObj.mu.Lock()
	defer netObj.mu.Unlock()
	for key := range netObj.SentBytes {
		netObj.SentBytes[key] = 0
	}
	for key := range netObj.ReceivedBytes {
		netObj.ReceivedBytes[key] = 0
	}
}

func (netObjs ParallelNetworks) ResetNetworkLog() {
	for i := range netObjs {
		netObjs[i].ResetNetworkLog()
	}
}

// TotalTraffic sums the byte counters over all devices.
func (netObjs ParallelNetworks) TotalTraffic() (sent, received map[PartyID]uint64) {
	sent = make(map[PartyID]uint64)
	received = make(map[PartyID]uint64)
	for _, netObj := range netObjs {
		netObj.mu.Lock()
		for key, value := range netObj.SentBytes {
			sent[key] += value
		}
		for key, value := range netObj.ReceivedBytes {
			received[key] += value
		}
		netObj.mu.Unlock()
	}
	return sent, received
}

func (netObjs ParallelNetworks) PrintNetworkLog() {
	if len(netObjs) == 0 {
		return
	}
	sent, received := netObjs.TotalTraffic()
	log.Lvl1("Network log for", netObjs[0].pid)
	for key, value := range sent {
		log.Lvl1(value, "bytes to", key)
	}
	for key, value := range received {
		log.Lvl1(value, "bytes from", key)
	}
}

func (netObjs ParallelNetworks) CloseAll() error {
	var first error
	for _, netObj := range netObjs {
		if err := netObj.CloseAll(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type Server struct {
	IpAddr string
	Ports  map[string]string
}

func pidString(pid PartyID) string {
	return fmt.Sprintf("party%d", int(pid))
}

/* Communication set up for parallelization */

// InitCommunication opens one network per device: a TCP connection
// between this party and each other party for every device. Ports in the
// config are offset by the device index.
func InitCommunication(bindingIP string, servers map[string]Server, pid PartyID, numDevices int, sharedKeysPath string, timeout time.Duration) (ParallelNetworks, error) {
	if !pid.Valid() {
		return nil, configErrorf("network", "invalid party id %d", pid)
	}
	if numDevices <= 0 {
		return nil, configErrorf("network", "need at least one device, got %d", numDevices)
	}
	for p := PartyID(0); p < NumParties; p++ {
		if _, ok := servers[pidString(p)]; !ok {
			return nil, configErrorf("network", "no server entry for %s", pidString(p))
		}
	}

	if bindingIP == "" { // Set default
		bindingIP = "0.0.0.0"
	}

	networks := make(ParallelNetworks, numDevices)
	var g errgroup.Group
	for dev := range networks {
		dev := dev
		g.Go(func() error {
			netObj, err := initNetworkForDevice(bindingIP, servers, pid, dev, timeout)
			if err != nil {
				return err
			}
			networks[dev] = netObj
			log.Lvl2("Network for device", dev, "complete")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, netObj := range networks {
			if netObj != nil {
				netObj.CloseAll()
			}
		}
		return nil, err
	}

	// derive per-device seeds from the same master seeds
	if err := InitializeParallelPRG(sharedKeysPath, networks, pid); err != nil {
		networks.CloseAll()
		return nil, err
	}
	return networks, nil
}

func initNetworkForDevice(bindingIP string, servers map[string]Server, pid PartyID, dev int, timeout time.Duration) (*Network, error) {
	netObj := newNetwork(pid, dev, timeout)

	for other := PartyID(0); other < NumParties; other++ {
		if other == pid {
			continue
		}

		if other < pid { // Act as a client
			ip := servers[pidString(other)].IpAddr
			if ip == servers[pidString(pid)].IpAddr { // If self, set to localhost
				ip = "127.0.0.1"
			}

			port, err := devicePort(servers[pidString(other)].Ports[pidString(pid)], dev)
			if err != nil {
				netObj.CloseAll()
				return nil, err
			}

			conn, err := Connect(ip, port, connectRetries, connectBackoff)
			if err != nil {
				netObj.CloseAll()
				return nil, peerError(other, "connect", err)
			}
			netObj.conns[other] = conn
			log.Lvl2("Connected to", pidString(other), "for device", dev)

		} else { // Act as a server
			port, err := devicePort(servers[pidString(pid)].Ports[pidString(other)], dev)
			if err != nil {
				netObj.CloseAll()
				return nil, err
			}

			conn, l, err := OpenChannel(bindingIP, port)
			if err != nil {
				netObj.CloseAll()
				return nil, peerError(other, "accept", err)
			}
			netObj.conns[other] = conn
			netObj.listeners[other] = l
			log.Lvl2("Accepted", pidString(other), "for device", dev)
		}
	}

	return netObj, nil
}

// Need different port for each device between each pair of parties.
// Assumes that port + device does not collide in the config.
func devicePort(base string, dev int) (string, error) {
	portInt, err := strconv.Atoi(base)
	if err != nil {
		return "", configErrorf("network", "invalid port %q: %v", base, err)
	}
	return strconv.Itoa(portInt + dev), nil
}

/* Reading and writing from channel */

func (netObj *Network) conn(peer PartyID) (net.Conn, error) {
	conn, ok := netObj.conns[peer]
	if !ok {
		return nil, configErrorf("network", "%s has no connection to %s", pidString(netObj.pid), pidString(peer))
	}
	return conn, nil
}

// writeFull writes buf to peer under the network deadline.
func (netObj *Network) writeFull(peer PartyID, buf []byte) error {
	conn, err := netObj.conn(peer)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(netObj.timeout)); err != nil {
		return peerError(peer, "send", err)
	}
	for len(buf) > 0 {
		sent, err := conn.Write(buf)
		if err != nil {
			return peerError(peer, "send", err)
		}
		buf = buf[sent:]
	}
	return nil
}

// readFull fills buf from peer under the network deadline.
func (netObj *Network) readFull(peer PartyID, buf []byte) error {
	conn, err := netObj.conn(peer)
	if err != nil {
		return err
	}
	if err := conn.SetReadDeadline(time.Now().Add(netObj.timeout)); err != nil {
		return peerError(peer, "receive", err)
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		return peerError(peer, "receive", err)
	}
	return nil
}

// OpenChannel listens at ip:port and accepts exactly one connection.
func OpenChannel(ip, port string) (net.Conn, net.Listener, error) {
	addr := ":" + port
	if ip != "" {
		addr = ip + addr
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	log.Lvl3("Opened socket on", addr)

	conn, err := l.Accept()
	if err != nil {
		l.Close()
		return nil, nil, err
	}
	return conn, l, nil
}

const (
	connectRetries = 100
	connectBackoff = 5 * time.Second
)

// Connect dials ip:port, retrying while the other party starts up.
func Connect(ip, port string, retries int, backoff time.Duration) (net.Conn, error) {
	addr := ip + ":" + port

	var err error
	for attempt := 0; attempt < retries; attempt++ {
		var c net.Conn
		c, err = net.Dial("tcp", addr)
		if err == nil {
			log.Lvl2("Successfully connected to", addr)
			return c, nil
		}

		log.Lvl2("Connection to", addr, "failed:", err, "- retrying in", backoff)
		time.Sleep(backoff)
	}
	return nil, fmt.Errorf("dial %s: giving up after %d attempts: %w", addr, retries, err)
}

// CloseAll closes every connection and listener of the network.
func (netObj *Network) CloseAll() error {
	var first error
	for _, c := range netObj.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, l := range netObj.listeners {
		l.Close()
	}
	return first
}

func (netObj *Network) GetPid() PartyID {
	return netObj.pid
}

func (netObj *Network) Device() int {
	return netObj.device
}

func (netObj *Network) Timeout() time.Duration {
	return netObj.timeout
}

// NewLocalNetworks builds the networks of all three parties inside one
// process, connected by in-memory pipes. The result is indexed by party
// and then by device.
func NewLocalNetworks(numDevices int, timeout time.Duration) ([NumParties]ParallelNetworks, error) {
	var out [NumParties]ParallelNetworks
	if numDevices <= 0 {
		return out, configErrorf("network", "need at least one device, got %d", numDevices)
	}
	for p := range out {
		out[p] = make(ParallelNetworks, numDevices)
		for dev := range out[p] {
			out[p][dev] = newNetwork(PartyID(p), dev, timeout)
		}
	}
	for dev := 0; dev < numDevices; dev++ {
		for a := PartyID(0); a < NumParties; a++ {
			for b := a + 1; b < NumParties; b++ {
				ca, cb := net.Pipe()
				out[a][dev].conns[b] = ca
				out[b][dev].conns[a] = cb
			}
		}
	}
	for p := range out {
		if err := InitializeParallelPRG("", out[p], PartyID(p)); err != nil {
			return out, err
		}
	}
	return out, nil
}
