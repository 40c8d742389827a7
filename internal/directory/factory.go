package directory

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
)

// NewTransport builds the Transport named by kind ("udp" or "nats"). For
// "udp" it binds gossipAddr itself; for "nats" it dials natsURL and
// provisions the TPU_GOSSIP stream/consumer for nodeName.
func NewTransport(kind string, gossipAddr *net.UDPAddr, natsURL, nodeName string, logger *zerolog.Logger) (Transport, error) {
	switch kind {
	case "", "udp":
		conn, err := net.ListenUDP("udp", gossipAddr)
		if err != nil {
			return nil, fmt.Errorf("directory: bind gossip socket: %w", err)
		}
		return NewUDPTransport(conn), nil
	case "nats":
		return NewNATSTransport(natsURL, nodeName, logger)
	default:
		return nil, fmt.Errorf("directory: unknown gossip transport %q", kind)
	}
}
