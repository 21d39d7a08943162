package engine

import (
	"net"
	"strconv"

	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/torrent"
)

// startingNodes replaces the library's default bootstrap routers with the
// configured host:port list.
func startingNodes(nodes []string) func(network string) dht.StartingNodesGetter {
	return func(network string) dht.StartingNodesGetter {
		return func() ([]dht.Addr, error) {
			return resolveBootstrapNodes(network, nodes), nil
		}
	}
}

// resolveBootstrapNodes resolves bootstrap node addresses, skipping any that
// fail to parse or resolve.
func resolveBootstrapNodes(network string, nodes []string) []dht.Addr {
	addrs := make([]dht.Addr, 0, len(nodes))

	for _, node := range nodes {
		host, portStr, err := net.SplitHostPort(node)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			continue
		}

		udpAddr, err := net.ResolveUDPAddr(network, net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		addrs = append(addrs, dht.NewAddr(udpAddr))
	}

	return addrs
}

// dhtNodeCount sums the routing table sizes of the client's DHT servers.
func dhtNodeCount(client *torrent.Client) int {
	total := 0
	for _, s := range client.DhtServers() {
		wrapper, ok := s.(torrent.AnacrolixDhtServerWrapper)
		if !ok {
			continue
		}
		total += wrapper.Server.NumNodes()
	}
	return total
}
