package meshnet

import (
	"context"
	"fmt"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Bootstrap wraps a client-mode Kademlia DHT used strictly to resolve an
// admin's current multiaddresses by peer id when no explicit admin address
// is configured. It never carries application traffic; the workspace topic
// remains the sole message-routing mechanism.
type Bootstrap struct {
	dht *dht.IpfsDHT
}

// NewBootstrap joins the public DHT in client mode over h.
func NewBootstrap(ctx context.Context, h host.Host) (*Bootstrap, error) {
	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeClient))
	if err != nil {
		return nil, fmt.Errorf("%w: create dht client: %v", ErrTransport, err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("%w: bootstrap dht: %v", ErrTransport, err)
	}
	return &Bootstrap{dht: kad}, nil
}

// FindPeer resolves id's currently known multiaddresses via the DHT.
func (b *Bootstrap) FindPeer(ctx context.Context, id peer.ID) (peer.AddrInfo, error) {
	info, err := b.dht.FindPeer(ctx, id)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("%w: find peer %s via dht: %v", ErrTransport, id, err)
	}
	return info, nil
}

// Close releases the DHT's resources.
func (b *Bootstrap) Close() error {
	return b.dht.Close()
}
