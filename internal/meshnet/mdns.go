package meshnet

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"
)

// mdnsServiceName is the DNS-SD service type used for LAN discovery. Fixed
// for all ceylonmesh peers; workspace isolation happens at the gossipsub
// topic and rendezvous namespace level, not at the mDNS service name.
const mdnsServiceName = "_ceylonmesh._udp"

const (
	mdnsConnectTimeout    = 5 * time.Second
	mdnsDedupeInterval    = 30 * time.Second
	mdnsMaxConcurrentDial = 5
	mdnsBrowseInterval    = 30 * time.Second
	mdnsBrowseTimeout     = 10 * time.Second
	dnsaddrPrefix         = "dnsaddr="
)

// MDNSDiscovery advertises this peer on the local network and dials peers
// it discovers there, so a workspace of peers on the same LAN finds each
// other without needing the admin's address ahead of time.
type MDNSDiscovery struct {
	host    host.Host
	server  *zeroconf.Server
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastTry map[peer.ID]time.Time

	sem chan struct{}
}

// NewMDNSDiscovery builds an MDNSDiscovery for h. m is optional.
func NewMDNSDiscovery(h host.Host, m *Metrics) *MDNSDiscovery {
	return &MDNSDiscovery{
		host:    h,
		metrics: m,
		lastTry: make(map[peer.ID]time.Time),
		sem:     make(chan struct{}, mdnsMaxConcurrentDial),
	}
}

// Start begins advertising and periodically browsing the local network.
func (md *MDNSDiscovery) Start(ctx context.Context) error {
	md.ctx, md.cancel = context.WithCancel(ctx)
	if err := md.startServer(); err != nil {
		return err
	}
	md.wg.Add(1)
	go md.browseLoop()
	return nil
}

// Close stops advertising and waits for in-flight dials to finish.
func (md *MDNSDiscovery) Close() error {
	md.cancel()
	if md.server != nil {
		md.server.Shutdown()
	}
	md.wg.Wait()
	return nil
}

func (md *MDNSDiscovery) startServer() error {
	interfaceAddrs, err := md.host.Network().InterfaceListenAddresses()
	if err != nil {
		return err
	}
	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: md.host.ID(), Addrs: interfaceAddrs})
	if err != nil {
		return err
	}

	var txts []string
	for _, addr := range p2pAddrs {
		if isSuitableForMDNS(addr) {
			txts = append(txts, dnsaddrPrefix+addr.String())
		}
	}
	ips := lanIPs(p2pAddrs)

	name := randomString(32 + rand.Intn(32))
	server, err := zeroconf.RegisterProxy(name, mdnsServiceName, "local", 4001, name, ips, txts, nil)
	if err != nil {
		return err
	}
	md.server = server
	return nil
}

func (md *MDNSDiscovery) browseLoop() {
	defer md.wg.Done()
	select {
	case <-time.After(2 * time.Second):
	case <-md.ctx.Done():
		return
	}
	md.runBrowse()

	ticker := time.NewTicker(mdnsBrowseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-md.ctx.Done():
			return
		case <-ticker.C:
			md.runBrowse()
		}
	}
}

func (md *MDNSDiscovery) runBrowse() {
	browseCtx, cancel := context.WithTimeout(md.ctx, mdnsBrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 100)
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		slog.Debug("mdns: resolver init failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			md.processTextRecords(entry.Text)
		}
	}()

	if err := resolver.Browse(browseCtx, mdnsServiceName, "local.", entries); err != nil && md.ctx.Err() == nil {
		slog.Debug("mdns: browse round error", "error", err)
	}
	<-browseCtx.Done()
	wg.Wait()
}

func (md *MDNSDiscovery) processTextRecords(txts []string) {
	addrs := make([]ma.Multiaddr, 0, len(txts))
	for _, txt := range txts {
		if !strings.HasPrefix(txt, dnsaddrPrefix) {
			continue
		}
		addr, err := ma.NewMultiaddr(txt[len(dnsaddrPrefix):])
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return
	}
	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		return
	}
	for _, info := range infos {
		if info.ID == md.host.ID() {
			continue
		}
		md.HandlePeerFound(info)
	}
}

// HandlePeerFound dials a peer discovered via mDNS, subject to dedup and a
// bound on concurrent dial attempts.
func (md *MDNSDiscovery) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == md.host.ID() {
		return
	}

	md.mu.Lock()
	if last, ok := md.lastTry[pi.ID]; ok && time.Since(last) < mdnsDedupeInterval {
		md.mu.Unlock()
		return
	}
	md.lastTry[pi.ID] = time.Now()
	md.mu.Unlock()

	if md.metrics != nil {
		md.metrics.MDNSDiscoveredTotal.WithLabelValues("discovered").Inc()
	}

	lan := filterLANAddrs(pi.Addrs)
	if len(lan) > 0 {
		pi.Addrs = lan
	}
	md.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, 10*time.Minute)

	select {
	case md.sem <- struct{}{}:
	default:
		return
	}

	md.wg.Add(1)
	go func() {
		defer md.wg.Done()
		defer func() { <-md.sem }()

		ctx, cancel := context.WithTimeout(md.ctx, mdnsConnectTimeout)
		defer cancel()
		if err := md.host.Connect(ctx, pi); err != nil {
			slog.Debug("mdns: connect failed", "peer", pi.ID, "error", err)
			return
		}
		if md.metrics != nil {
			md.metrics.MDNSDiscoveredTotal.WithLabelValues("connected").Inc()
		}
	}()
}

func isSuitableForMDNS(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	first, _ := ma.SplitFirst(addr)
	if first == nil {
		return false
	}
	switch first.Protocol().Code {
	case ma.P_IP4, ma.P_IP6:
	case ma.P_DNS, ma.P_DNS4, ma.P_DNS6, ma.P_DNSADDR:
		if !strings.HasSuffix(strings.ToLower(first.Value()), ".local") {
			return false
		}
	default:
		return false
	}
	excluded := false
	ma.ForEach(addr, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_CIRCUIT, ma.P_WEBTRANSPORT, ma.P_WEBRTC, ma.P_WEBRTC_DIRECT, ma.P_P2P_WEBRTC_DIRECT, ma.P_WS, ma.P_WSS:
			excluded = true
			return false
		}
		return true
	})
	return !excluded
}

func lanIPs(addrs []ma.Multiaddr) []string {
	var ip4, ip6 string
	for _, addr := range addrs {
		first, _ := ma.SplitFirst(addr)
		if first == nil {
			continue
		}
		if ip4 == "" && first.Protocol().Code == ma.P_IP4 {
			ip4 = first.Value()
		} else if ip6 == "" && first.Protocol().Code == ma.P_IP6 {
			ip6 = first.Value()
		}
	}
	var ips []string
	if ip4 != "" {
		ips = append(ips, ip4)
	}
	if ip6 != "" {
		ips = append(ips, ip6)
	}
	if len(ips) == 0 {
		ips = append(ips, "127.0.0.1")
	}
	return ips
}

func randomString(l int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	s := make([]byte, 0, l)
	for i := 0; i < l; i++ {
		s = append(s, alphabet[rand.Intn(len(alphabet))])
	}
	return string(s)
}

func filterLANAddrs(addrs []ma.Multiaddr) []ma.Multiaddr {
	localNets := localIPv4Subnets()
	if len(localNets) == 0 {
		return nil
	}
	var lan []ma.Multiaddr
	for _, addr := range addrs {
		first, _ := ma.SplitFirst(addr)
		if first == nil || first.Protocol().Code != ma.P_IP4 {
			continue
		}
		ip := net.ParseIP(first.Value())
		if ip == nil || ip.IsLoopback() {
			continue
		}
		for _, ln := range localNets {
			if ln.Contains(ip) {
				lan = append(lan, addr)
				break
			}
		}
	}
	return lan
}

func localIPv4Subnets() []*net.IPNet {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var nets []*net.IPNet
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLinkLocalUnicast() || ip4.IsLoopback() {
				continue
			}
			nets = append(nets, ipNet)
		}
	}
	return nets
}
