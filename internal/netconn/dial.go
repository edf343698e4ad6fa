package netconn

import (
	"context"
	"fmt"
	"net"
)

// Dial opens an outbound TCP connection to addr and wraps it in a Channel.
func Dial(ctx context.Context, addr string, opts Options) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netconn: dial %s: %w", addr, err)
	}
	return New(conn, opts), nil
}
